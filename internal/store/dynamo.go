package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/heavyhunt/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultDynamoTable is used when DYNAMODB_TABLE_NAME is unset.
const DefaultDynamoTable = "heavyhunt-queries"

type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// leadItem is the DynamoDB shape of a lead. The attribute names match the
// records the dashboard already reads (id, user_email, querySummary).
type leadItem struct {
	ID          string            `dynamodbav:"id"`
	UserEmail   string            `dynamodbav:"user_email"`
	Summary     string            `dynamodbav:"querySummary"`
	SessionID   string            `dynamodbav:"session_id"`
	Contact     string            `dynamodbav:"contact_identifier"`
	LeadContext map[string]string `dynamodbav:"leadContext,omitempty"`
	Timestamp   string            `dynamodbav:"timestamp"`
	CreatedAt   int64             `dynamodbav:"createdAt"`
}

// DynamoLeadStore implements LeadStore on a DynamoDB table keyed by "id".
type DynamoLeadStore struct {
	client dynamoAPI
	table  string
}

// DynamoConfig configures NewDynamoLeadStore. Endpoint overrides the service
// URL for DynamoDB Local and similar.
type DynamoConfig struct {
	Region   string
	Table    string
	Endpoint string
}

// NewDynamoLeadStore loads AWS credentials from the default chain and
// returns a lead store bound to cfg.Table.
func NewDynamoLeadStore(ctx context.Context, cfg DynamoConfig) (*DynamoLeadStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var ddbOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		ddbOpts = append(ddbOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	table := cfg.Table
	if table == "" {
		table = DefaultDynamoTable
	}

	return &DynamoLeadStore{
		client: dynamodb.NewFromConfig(awsCfg, ddbOpts...),
		table:  table,
	}, nil
}

// SaveLead puts the lead into the table.
func (s *DynamoLeadStore) SaveLead(ctx context.Context, lead *domain.Lead) error {
	item := leadItem{
		ID:          lead.ID,
		UserEmail:   lead.Email(),
		Summary:     lead.Summary,
		SessionID:   lead.SessionID,
		Contact:     lead.ContactIdentifier,
		LeadContext: make(map[string]string, len(lead.Context)),
		Timestamp:   lead.CreatedAt.UTC().Format(time.RFC3339Nano),
		CreatedAt:   lead.CreatedAt.UnixMilli(),
	}
	if item.UserEmail == "" {
		item.UserEmail = lead.ContactIdentifier
	}
	for f, v := range lead.Context {
		item.LeadContext[string(f)] = v
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal lead %s: %w", lead.ID, err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("dynamodb put lead %s: %w", lead.ID, err)
	}
	return nil
}

// GetLead reads a lead back by ID.
func (s *DynamoLeadStore) GetLead(ctx context.Context, leadID string) (*domain.Lead, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: leadID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get lead %s: %w", leadID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var item leadItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal lead %s: %w", leadID, err)
	}

	raw := make(map[string]any, len(item.LeadContext))
	for k, v := range item.LeadContext {
		raw[k] = v
	}
	return &domain.Lead{
		ID:                item.ID,
		SessionID:         item.SessionID,
		ContactIdentifier: item.Contact,
		Summary:           item.Summary,
		Context:           domain.DecodeLeadContext(raw),
		CreatedAt:         time.UnixMilli(item.CreatedAt).UTC(),
	}, nil
}
