package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Exporter ships committed usage records to an external sink for offline
// billing pipelines.
type Exporter interface {
	Export(ctx context.Context, record UsageRecord) error
}

// SQSExporter publishes usage records to an SQS queue.
type SQSExporter struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSExporter(ctx context.Context, region, queueURL string) (*SQSExporter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSExporterWithConfig(cfg, queueURL), nil
}

func NewSQSExporterWithConfig(cfg aws.Config, queueURL string) *SQSExporter {
	return &SQSExporter{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

func (e *SQSExporter) Export(ctx context.Context, record UsageRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(e.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Principal": {
				DataType:    aws.String("String"),
				StringValue: aws.String(record.Principal),
			},
			"Provider": {
				DataType:    aws.String("String"),
				StringValue: aws.String(record.Provider),
			},
		},
	}

	if _, err := e.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send usage record: %w", err)
	}

	return nil
}

// ExportingTracker decorates a Tracker so every committed record is also
// shipped to the exporter. Export failures are logged and dropped;
// billing export must never fail a request.
type ExportingTracker struct {
	Tracker
	exporter Exporter
}

func NewExportingTracker(tracker Tracker, exporter Exporter) *ExportingTracker {
	return &ExportingTracker{Tracker: tracker, exporter: exporter}
}

func (t *ExportingTracker) Record(ctx context.Context, record UsageRecord) error {
	if err := t.Tracker.Record(ctx, record); err != nil {
		return err
	}

	if err := t.exporter.Export(ctx, record); err != nil {
		slog.Warn("usage export failed",
			"request_id", record.RequestID,
			"principal", record.Principal,
			"error", err,
		)
	}
	return nil
}
