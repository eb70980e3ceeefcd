package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-order-reconciler/internal/apperr"
	"github.com/sirupsen/logrus"
)

// writeError renders err as {success:false, error} with the status its kind maps to.
func (h *handler) writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	body := gin.H{"success": false, "error": apperr.Message(err)}

	var e *apperr.Error
	if errors.As(err, &e) && len(e.Fields) > 0 {
		body["fields"] = e.Fields
	}
	if status >= 500 {
		h.cfg.Log.WithFields(logrus.Fields{
			"path":  c.FullPath(),
			"error": err.Error(),
		}).Error("request failed")
	}
	c.JSON(status, body)
}
