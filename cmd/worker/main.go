package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/imrishuroy/go-order-reconciler/internal/aws"
	"github.com/imrishuroy/go-order-reconciler/internal/compensation"
	"github.com/imrishuroy/go-order-reconciler/internal/config"
	"github.com/imrishuroy/go-order-reconciler/internal/customers"
	"github.com/imrishuroy/go-order-reconciler/internal/inventory"
	"github.com/imrishuroy/go-order-reconciler/internal/logging"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	log := logging.New(cfg.LogLevel)

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWSRegion, cfg.AWSEndpointOverride)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	compensationStore := compensation.NewStore(clients.DynamoDB, cfg.CompensationsTable)
	// Failed retries are redelivered by SQS itself, so nothing is enqueued here.
	runner := compensation.NewRunner(compensationStore, nil, log)
	runner.Handle(compensation.KindCustomerCredit, customers.NewStore(clients.DynamoDB, cfg.CustomersTable).CreditHandler())
	inventory.NewReconciler(inventory.NewStore(clients.DynamoDB, cfg.ProductsTable, compensationStore), runner, log)

	p := NewProcessor(runner, aws.NewMetricEmitter(clients.CloudWatch, cfg.MetricsNamespace), log)

	// RUN_LOCAL=true processes one message taken from LOCAL_SQS_BODY.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			log.Fatal("LOCAL_SQS_BODY is required when RUN_LOCAL=true")
		}
		resp, _ := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if len(resp.BatchItemFailures) > 0 {
			log.Fatal("local message failed")
		}
		return
	}

	lambda.Start(p.Handle)
}
