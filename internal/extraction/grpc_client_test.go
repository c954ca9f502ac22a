package extraction

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ashureev/heavyhunt/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeInvoker struct {
	method string
	sent   map[string]any
	reply  map[string]any
	err    error
}

func (f *fakeInvoker) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	f.method = method
	f.sent = args.(*structpb.Struct).AsMap()
	if f.err != nil {
		return f.err
	}
	out, err := structpb.NewStruct(f.reply)
	if err != nil {
		return err
	}
	reply.(*structpb.Struct).Fields = out.Fields
	return nil
}

func TestGrpcClientExtract(t *testing.T) {
	inv := &fakeInvoker{reply: map[string]any{
		"message":          "Imported or local?",
		"leadContext":      map[string]any{"condition": "used", "budget": 1000},
		"isQueryCompleted": false,
	}}
	c := &GrpcClient{invoker: inv, logger: slog.Default()}

	req := testRequest()
	req.RequiredFields = domain.DefaultRequiredFields
	resp, err := c.Extract(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, ExtractMethod, inv.method)
	assert.Equal(t, "second-hand please", inv.sent["message"])
	assert.Len(t, inv.sent["messageHistory"], 3)
	assert.Equal(t, map[string]any{"machineType": "bulldozer"}, inv.sent["leadContext"])

	assert.Equal(t, "Imported or local?", resp.ReplyText)
	assert.Equal(t, domain.LeadContext{domain.FieldCondition: "used"}, resp.Partial)
}

func TestGrpcClientExtractFailure(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("unavailable")}
	c := &GrpcClient{invoker: inv, logger: slog.Default()}

	_, err := c.Extract(context.Background(), testRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedResponse)
}

func TestGrpcClientEmptyReplyIsMalformed(t *testing.T) {
	inv := &fakeInvoker{reply: map[string]any{"leadContext": map[string]any{}}}
	c := &GrpcClient{invoker: inv, logger: slog.Default()}

	_, err := c.Extract(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrMalformedResponse)
}
