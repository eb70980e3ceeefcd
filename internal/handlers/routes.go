package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/go-order-reconciler/internal/intake"
	"github.com/imrishuroy/go-order-reconciler/internal/lifecycle"
	"github.com/imrishuroy/go-order-reconciler/internal/payments"
	"github.com/imrishuroy/go-order-reconciler/internal/tracking"
	"github.com/imrishuroy/go-order-reconciler/internal/validation"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type OrderCreator interface {
	CreateOrder(ctx context.Context, req intake.Request) (intake.Response, error)
}

type PaymentReconciler interface {
	Reconcile(ctx context.Context, n payments.Notification) (payments.Result, error)
}

type OrderCanceller interface {
	Cancel(ctx context.Context, req lifecycle.CancelRequest) (lifecycle.CancelResponse, error)
}

type OrderTracker interface {
	Track(ctx context.Context, req tracking.Request) (tracking.Response, error)
}

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Intake    OrderCreator
	Payments  PaymentReconciler
	Lifecycle OrderCanceller
	Tracking  OrderTracker
	Log       logrus.FieldLogger
}

// RegisterRoutes registers the order, payment and tracking API.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	h := &handler{cfg: cfg, v: validation.New()}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/orders", h.createOrder)
	r.PATCH("/orders/cancel/:orderNumber", h.cancelOrder)
	r.GET("/orders/track", h.trackOrder)
	r.POST("/orders/track", h.trackOrder)
	r.POST("/payments/notify", h.paymentNotify)
}

type handler struct {
	cfg HandlerConfig
	v   *validatorv10.Validate
}
