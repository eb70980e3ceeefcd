package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/imrishuroy/go-order-reconciler/internal/apperr"
	"github.com/imrishuroy/go-order-reconciler/internal/metrics"
	"github.com/imrishuroy/go-order-reconciler/internal/payments"
	"github.com/imrishuroy/go-order-reconciler/internal/validation"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// paymentNotify handles the gateway's form-encoded POST /payments/notify.
// The gateway only looks at the status code; the plain "OK" body is for humans.
func (h *handler) paymentNotify(c *gin.Context) {
	var form validation.PaymentNotification
	if err := c.ShouldBindWith(&form, binding.FormPost); err != nil {
		metrics.WebhookNotifications.WithLabelValues("invalid_request", "").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	if err := h.v.Struct(&form); err != nil {
		metrics.WebhookNotifications.WithLabelValues("invalid_request", form.StatusCode).Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "validation failed",
			"fields":  validation.FieldErrors(err),
		})
		return
	}

	amount, err := decimal.NewFromString(form.Amount)
	if err != nil {
		metrics.WebhookNotifications.WithLabelValues("invalid_request", form.StatusCode).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid amount"})
		return
	}

	n := payments.Notification{
		MerchantID:  form.MerchantID,
		OrderNumber: form.OrderID,
		PaymentID:   form.PaymentID,
		Amount:      amount,
		Currency:    form.Currency,
		StatusCode:  form.StatusCode,
		Signature:   form.MD5Sig,
		Method:      form.Method,
		CardNo:      form.CardNo,
		CardHolder:  form.CardHolderName,
		CardExpiry:  form.CardExpiry,
		Custom1:     form.Custom1,
		Custom2:     form.Custom2,
	}

	result, err := h.cfg.Payments.Reconcile(c.Request.Context(), n)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindUnauthenticated:
			metrics.WebhookNotifications.WithLabelValues("invalid_signature", form.StatusCode).Inc()
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid signature"})
		case apperr.KindNotFound:
			metrics.WebhookNotifications.WithLabelValues("not_found", form.StatusCode).Inc()
			h.writeError(c, err)
		case apperr.KindValidation:
			metrics.WebhookNotifications.WithLabelValues("invalid_request", form.StatusCode).Inc()
			h.writeError(c, err)
		default:
			metrics.WebhookNotifications.WithLabelValues("error", form.StatusCode).Inc()
			h.cfg.Log.WithFields(logrus.Fields{
				"order_number": form.OrderID,
				"payment_id":   form.PaymentID,
				"error":        err.Error(),
			}).Error("payment notification failed")
			c.String(http.StatusInternalServerError, "ERROR")
		}
		return
	}

	metrics.WebhookNotifications.WithLabelValues(string(result), form.StatusCode).Inc()
	c.String(http.StatusOK, "OK")
}
