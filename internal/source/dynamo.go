package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/eventmill/eventmill/pkg/types"
)

// timeLayout is the timestamp format used in scan range predicates. The
// producer writes ISO-8601 UTC timestamps, so the same format keeps the
// BETWEEN predicate and the stored attribute comparable as strings.
const timeLayout = "2006-01-02T15:04:05Z07:00"

// DynamoStore implements PageScanner against a DynamoDB table.
type DynamoStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoStore creates a DynamoDB-backed page scanner.
func NewDynamoStore(ctx context.Context, table, region string) (*DynamoStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &DynamoStore{
		client: dynamodb.NewFromConfig(awsCfg),
		table:  table,
	}, nil
}

// NewDynamoStoreWithClient creates a page scanner with a pre-configured client.
func NewDynamoStoreWithClient(client *dynamodb.Client, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// ScanPage runs one segmented, time-filtered Scan call and decodes the items.
func (s *DynamoStore) ScanPage(ctx context.Context, req ScanRequest) (*ScanPage, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("#t BETWEEN :start AND :end"),
		ExpressionAttributeNames: map[string]string{
			"#t": types.FieldTime,
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":start": &ddbtypes.AttributeValueMemberS{Value: req.Start.UTC().Format(timeLayout)},
			":end":   &ddbtypes.AttributeValueMemberS{Value: req.End.UTC().Format(timeLayout)},
		},
		Segment:       aws.Int32(int32(req.Segment)),
		TotalSegments: aws.Int32(int32(req.TotalSegments)),
		Limit:         aws.Int32(req.Limit),
	}

	if req.StartToken != nil {
		key, ok := req.StartToken.(map[string]ddbtypes.AttributeValue)
		if !ok {
			return nil, fmt.Errorf("unexpected page token type %T", req.StartToken)
		}
		input.ExclusiveStartKey = key
	}

	out, err := s.client.Scan(ctx, input)
	if err != nil {
		if isRateExceeded(err) {
			return nil, fmt.Errorf("%w: %v", ErrRateExceeded, err)
		}
		return nil, fmt.Errorf("scan table %s segment %d: %w", s.table, req.Segment, err)
	}

	var items []map[string]interface{}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("decode scan items: %w", err)
	}

	page := &ScanPage{Records: make([]types.Record, 0, len(items))}
	for _, item := range items {
		page.Records = append(page.Records, types.RecordFromItem(item))
	}
	if len(out.LastEvaluatedKey) > 0 {
		page.NextToken = out.LastEvaluatedKey
	}
	return page, nil
}

// EstimateItemCount returns the table's approximate item count from
// DescribeTable. The count is eventually consistent; it is only used for
// scan-time estimation, never for control flow.
func (s *DynamoStore) EstimateItemCount(ctx context.Context) (int64, error) {
	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err != nil {
		return 0, fmt.Errorf("describe table %s: %w", s.table, err)
	}
	return aws.ToInt64(out.Table.ItemCount), nil
}

// isRateExceeded reports whether the error is a DynamoDB throttling response.
func isRateExceeded(err error) bool {
	var throughput *ddbtypes.ProvisionedThroughputExceededException
	if errors.As(err, &throughput) {
		return true
	}
	var limit *ddbtypes.RequestLimitExceeded
	if errors.As(err, &limit) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
		return true
	}
	return false
}
