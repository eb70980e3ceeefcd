package validation

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	validatorv10 "github.com/go-playground/validator/v10"
)

// BindAndValidate binds JSON body into `out` and runs validation.
// If validation fails, it writes a 400 response and returns an error for the handler to short-circuit.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	return bindWith(c, out, v, binding.JSON)
}

// BindQueryAndValidate is BindAndValidate for query parameters.
func BindQueryAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	return bindWith(c, out, v, binding.Query)
}

func bindWith(c *gin.Context, out interface{}, v *validatorv10.Validate, b binding.Binding) error {
	if err := c.ShouldBindWith(out, b); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid request body",
		})
		return err
	}

	if err := v.Struct(out); err != nil {
		// return structured validation errors
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "validation failed",
			"fields":  FieldErrors(err),
		})
		return err
	}
	return nil
}

// FieldErrors flattens validator errors into field -> message.
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		out["error"] = err.Error()
		return out
	}
	for _, fe := range ve {
		out[fe.Namespace()] = message(fe)
	}
	return out
}

func message(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "eq":
		return fmt.Sprintf("must be %q", fe.Param())
	case "subtotal_matches_items":
		return fmt.Sprintf("must equal the sum of item prices (%s)", fe.Param())
	case "total_matches_pricing":
		return fmt.Sprintf("must equal subtotal + shipping - discount (%s)", fe.Param())
	}
	return fe.Error()
}
