package aws

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricEmitter publishes custom count metrics to CloudWatch. Lambda
// functions cannot be scraped, so the worker reports through here.
type MetricEmitter struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewMetricEmitter returns an emitter writing into namespace.
func NewMetricEmitter(client CloudWatchAPI, namespace string) *MetricEmitter {
	return &MetricEmitter{client: client, namespace: namespace, nowFunc: time.Now}
}

// Count records value for name with the given dimensions.
func (m *MetricEmitter) Count(ctx context.Context, name string, value float64, dims map[string]string) error {
	if m == nil || m.client == nil {
		return nil
	}
	dimensions := make([]cwtypes.Dimension, 0, len(dims))
	for k, v := range dims {
		dimensions = append(dimensions, cwtypes.Dimension{Name: sdkaws.String(k), Value: sdkaws.String(v)})
	}
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: sdkaws.String(name),
			Value:      sdkaws.Float64(value),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  sdkaws.Time(m.nowFunc()),
			Dimensions: dimensions,
		}},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
