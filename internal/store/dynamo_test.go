package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/heavyhunt/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type fakeDynamo struct {
	items  map[string]map[string]types.AttributeValue
	table  string
	putErr error
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.table = aws.ToString(in.TableName)
	id := in.Item["id"].(*types.AttributeValueMemberS).Value
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	id := in.Key["id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[id]}, nil
}

func TestDynamoLeadStoreRoundTrip(t *testing.T) {
	fake := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	s := &DynamoLeadStore{client: fake, table: "leads-test"}
	ctx := context.Background()

	created := time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC)
	lead := &domain.Lead{
		ID:                "lead-9",
		SessionID:         "session_x_abcd",
		ContactIdentifier: "buyer@example.com",
		Summary:           "Used bulldozer, local, delivery",
		Context: domain.LeadContext{
			domain.FieldMachineType: "bulldozer",
			domain.FieldEmail:       "buyer@example.com",
		},
		CreatedAt: created,
	}
	if err := s.SaveLead(ctx, lead); err != nil {
		t.Fatalf("SaveLead failed: %v", err)
	}
	if fake.table != "leads-test" {
		t.Errorf("expected table leads-test, got %q", fake.table)
	}

	item := fake.items["lead-9"]
	if v := item["user_email"].(*types.AttributeValueMemberS).Value; v != "buyer@example.com" {
		t.Errorf("expected user_email attribute, got %q", v)
	}
	if v := item["querySummary"].(*types.AttributeValueMemberS).Value; v != lead.Summary {
		t.Errorf("expected querySummary attribute, got %q", v)
	}

	got, err := s.GetLead(ctx, "lead-9")
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected lead, got nil")
	}
	if got.ContactIdentifier != lead.ContactIdentifier || got.SessionID != lead.SessionID {
		t.Errorf("unexpected lead: %+v", got)
	}
	if v, _ := got.Context.Get(domain.FieldMachineType); v != "bulldozer" {
		t.Errorf("expected machineType=bulldozer, got %q", v)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("expected %v, got %v", created, got.CreatedAt)
	}
}

func TestDynamoLeadStoreMissing(t *testing.T) {
	s := &DynamoLeadStore{client: &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}, table: "t"}

	got, err := s.GetLead(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestDynamoLeadStorePutError(t *testing.T) {
	boom := errors.New("throttled")
	s := &DynamoLeadStore{client: &fakeDynamo{putErr: boom}, table: "t"}

	err := s.SaveLead(context.Background(), &domain.Lead{ID: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped throttled error, got %v", err)
	}
}
