package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-order-reconciler/internal/aws"
	"github.com/imrishuroy/go-order-reconciler/internal/compensation"
	"github.com/imrishuroy/go-order-reconciler/internal/config"
	"github.com/imrishuroy/go-order-reconciler/internal/customers"
	"github.com/imrishuroy/go-order-reconciler/internal/handlers"
	"github.com/imrishuroy/go-order-reconciler/internal/idempotency"
	"github.com/imrishuroy/go-order-reconciler/internal/intake"
	"github.com/imrishuroy/go-order-reconciler/internal/inventory"
	"github.com/imrishuroy/go-order-reconciler/internal/lifecycle"
	"github.com/imrishuroy/go-order-reconciler/internal/logging"
	"github.com/imrishuroy/go-order-reconciler/internal/metrics"
	"github.com/imrishuroy/go-order-reconciler/internal/orderlock"
	"github.com/imrishuroy/go-order-reconciler/internal/orders"
	"github.com/imrishuroy/go-order-reconciler/internal/payments"
	"github.com/imrishuroy/go-order-reconciler/internal/tracking"
	"github.com/sirupsen/logrus"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.PrometheusMiddleware())

	handlers.RegisterRoutes(r, cfg)

	return r
}

func buildHandlers(cfg config.Config, clients *aws.AWSClients, log *logrus.Logger) handlers.HandlerConfig {
	db := clients.DynamoDB

	orderStore := orders.NewStore(db, cfg.OrdersTable)
	customerStore := customers.NewStore(db, cfg.CustomersTable)
	compensationStore := compensation.NewStore(db, cfg.CompensationsTable)
	productStore := inventory.NewStore(db, cfg.ProductsTable, compensationStore)
	idemStore := idempotency.NewStore(db, cfg.IdempotencyTable, cfg.IdempotencyTTL)

	publisher := aws.NewPublisher(clients.SQS, cfg.EventsQueueURL)
	retries := aws.NewPublisher(clients.SQS, cfg.CompensationQueueURL)

	runner := compensation.NewRunner(compensationStore, retries, log)
	runner.Handle(compensation.KindCustomerCredit, customerStore.CreditHandler())
	restorer := inventory.NewReconciler(productStore, runner, log)

	locker := orderlock.New(cfg.RedisAddr, cfg.OrderLockTTL)

	return handlers.HandlerConfig{
		Intake: intake.NewService(orderStore, customerStore, idemStore, publisher,
			intake.Gateway{MerchantID: cfg.MerchantID, Secret: cfg.MerchantSecret}, cfg.Currency, log),
		Payments:  payments.NewAdapter(orderStore, runner, publisher, locker, cfg.MerchantID, cfg.MerchantSecret, log),
		Lifecycle: lifecycle.NewController(orderStore, restorer, publisher, locker, log),
		Tracking:  tracking.NewService(orderStore, log),
		Log:       log,
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	log := logging.New(cfg.LogLevel)

	if err := cfg.ValidateGateway(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWSRegion, cfg.AWSEndpointOverride)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	r := setupRouter(buildHandlers(cfg, clients, log))

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.RunLocal {
		log.Infof("running local server on %s", cfg.HTTPAddr)
		if err := r.Run(cfg.HTTPAddr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
