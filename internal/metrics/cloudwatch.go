package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// putMetricBatchSize is the CloudWatch PutMetricData limit per call.
const putMetricBatchSize = 20

// CloudWatchPublisher publishes run summaries to CloudWatch. Publish
// failures are logged and reported, never fatal to the run.
type CloudWatchPublisher struct {
	client    *cloudwatch.Client
	namespace string
	log       *zap.Logger
}

// NewCloudWatchPublisher creates a CloudWatch metrics publisher.
func NewCloudWatchPublisher(ctx context.Context, region, namespace string, log *zap.Logger) (*CloudWatchPublisher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &CloudWatchPublisher{
		client:    cloudwatch.NewFromConfig(awsCfg),
		namespace: namespace,
		log:       log,
	}, nil
}

// NewCloudWatchPublisherWithClient creates a publisher with a pre-configured client.
func NewCloudWatchPublisherWithClient(client *cloudwatch.Client, namespace string, log *zap.Logger) *CloudWatchPublisher {
	return &CloudWatchPublisher{client: client, namespace: namespace, log: log}
}

// Publish sends the run summary as metric data, batched to the API limit.
func (p *CloudWatchPublisher) Publish(ctx context.Context, s *Summary) error {
	now := time.Now().UTC()

	datum := func(name string, value float64, unit cwtypes.StandardUnit) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       unit,
			Timestamp:  aws.Time(now),
		}
	}

	data := []cwtypes.MetricDatum{
		datum("EventsProcessed", float64(s.EventsProcessed), cwtypes.StandardUnitCount),
		datum("ProcessingRate", s.EventsPerSecond, cwtypes.StandardUnitCountSecond),
		datum("ProcessingDuration", s.DurationSeconds.Seconds(), cwtypes.StandardUnitSeconds),
		datum("UploadSuccess", float64(s.SuccessfulUploads), cwtypes.StandardUnitCount),
		datum("UploadFailures", float64(s.FailedUploads), cwtypes.StandardUnitCount),
		datum("TotalDataUploaded", float64(s.TotalUploadBytes), cwtypes.StandardUnitBytes),
		datum("UploadRetries", float64(s.TotalRetries), cwtypes.StandardUnitCount),
		datum("ErrorCount", float64(s.ErrorCount), cwtypes.StandardUnitCount),
	}

	for name, d := range s.StageDurations {
		stage := datum("StageDuration", d.Seconds(), cwtypes.StandardUnitSeconds)
		stage.Dimensions = []cwtypes.Dimension{
			{Name: aws.String("Stage"), Value: aws.String(name)},
		}
		data = append(data, stage)
	}

	for i := 0; i < len(data); i += putMetricBatchSize {
		end := i + putMetricBatchSize
		if end > len(data) {
			end = len(data)
		}
		_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: data[i:end],
		})
		if err != nil {
			p.log.Error("failed to publish metrics", zap.Error(err))
			return fmt.Errorf("put metric data: %w", err)
		}
	}

	p.log.Info("published metrics",
		zap.Int("count", len(data)),
		zap.String("namespace", p.namespace))
	return nil
}
