package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/heavyhunt/internal/domain"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLead() domain.Lead {
	return domain.Lead{
		ID:                "lead-1",
		SessionID:         "session_abc_12345678",
		ContactIdentifier: "buyer@example.com",
		Summary:           "Used excavator, imported, pickup",
		Context: domain.LeadContext{
			domain.FieldMachineType: "excavator",
			domain.FieldCondition:   "used",
			domain.FieldName:        "Dana",
			domain.FieldEmail:       "buyer@example.com",
		},
		CreatedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

type mandrillCapture struct {
	mu       sync.Mutex
	requests []mandrillRequest
}

func (c *mandrillCapture) handler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req mandrillRequest
		_ = json.Unmarshal(raw, &req)
		c.mu.Lock()
		c.requests = append(c.requests, req)
		c.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestMandrillSendsConfirmationAndAdminAlert(t *testing.T) {
	capture := &mandrillCapture{}
	srv := httptest.NewServer(capture.handler(http.StatusOK, `[{"email":"x","status":"sent","_id":"abc"}]`))
	defer srv.Close()

	m := NewMandrill(MandrillConfig{
		APIKey:       "key-123",
		AdminEmail:   "sales@heavyhunt.com",
		DashboardURL: "https://heavyhunt.example/admin",
		Endpoint:     srv.URL,
	}, nil)

	require.NoError(t, m.Notify(context.Background(), testLead()))
	require.Len(t, capture.requests, 2)

	user := capture.requests[0]
	assert.Equal(t, "key-123", user.Key)
	assert.Equal(t, "buyer@example.com", user.Message.To[0].Email)
	assert.Equal(t, "HeavyHunt - Your excavator Inquiry Confirmation", user.Message.Subject)
	assert.Contains(t, user.Message.HTML, "Thank you for your inquiry, Dana!")
	assert.Contains(t, user.Message.HTML, "session_abc_12345678")
	assert.Contains(t, user.Message.HTML, "Not specified")
	assert.NotContains(t, user.Message.Text, "<p>")

	admin := capture.requests[1]
	assert.Equal(t, "sales@heavyhunt.com", admin.Message.To[0].Email)
	assert.Equal(t, "HeavyHunt Lead System", admin.Message.FromName)
	assert.Equal(t, "New Lead: excavator Inquiry from Dana", admin.Message.Subject)
	assert.Contains(t, admin.Message.HTML, "https://heavyhunt.example/admin")
	assert.Contains(t, admin.Message.HTML, "Used excavator, imported, pickup")
}

func TestMandrillEscapesLeadValues(t *testing.T) {
	capture := &mandrillCapture{}
	srv := httptest.NewServer(capture.handler(http.StatusOK, `[]`))
	defer srv.Close()

	lead := testLead()
	lead.Context[domain.FieldName] = "<script>alert(1)</script>"
	m := NewMandrill(MandrillConfig{Endpoint: srv.URL}, nil)

	require.NoError(t, m.Notify(context.Background(), lead))
	require.Len(t, capture.requests, 1)
	assert.NotContains(t, capture.requests[0].Message.HTML, "<script>")
}

func TestMandrillReportsFailures(t *testing.T) {
	srv := httptest.NewServer((&mandrillCapture{}).handler(http.StatusInternalServerError, `{"status":"error"}`))
	defer srv.Close()

	m := NewMandrill(MandrillConfig{Endpoint: srv.URL, AdminEmail: "sales@heavyhunt.com"}, nil)
	err := m.Notify(context.Background(), testLead())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user confirmation")
	assert.Contains(t, err.Error(), "admin notification")
}

func TestMandrillRejectedRecipient(t *testing.T) {
	srv := httptest.NewServer((&mandrillCapture{}).handler(http.StatusOK,
		`[{"email":"buyer@example.com","status":"rejected","reject_reason":"hard-bounce"}]`))
	defer srv.Close()

	m := NewMandrill(MandrillConfig{Endpoint: srv.URL}, nil)
	err := m.Notify(context.Background(), testLead())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hard-bounce")
}

func TestStripTags(t *testing.T) {
	got := stripTags("<p>Hello</p>\n\n  <b>world</b>  \n")
	assert.Equal(t, "Hello\nworld", got)
}

type fakeNotifier struct {
	calls int
	err   error
}

func (f *fakeNotifier) Notify(context.Context, domain.Lead) error {
	f.calls++
	return f.err
}

func TestMultiRunsEveryNotifier(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeNotifier{err: boom}
	b := &fakeNotifier{}

	err := Multi{a, nil, b}.Notify(context.Background(), testLead())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)

	require.NoError(t, Multi{b}.Notify(context.Background(), testLead()))
	require.NoError(t, Noop{}.Notify(context.Background(), testLead()))
}

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestNATSPublisherPublishesLeadCompleted(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url, "")
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe(DefaultSubject, ch)
	require.NoError(t, err)
	defer sub.Unsubscribe() //nolint:errcheck
	require.NoError(t, nc.Flush())

	require.NoError(t, pub.Notify(context.Background(), testLead()))
	require.NoError(t, pub.conn.Flush())

	select {
	case msg := <-ch:
		var got LeadCompleted
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "lead-1", got.LeadID)
		assert.Equal(t, "session_abc_12345678", got.SessionID)
		v, _ := got.LeadContext.Get(domain.FieldMachineType)
		assert.Equal(t, "excavator", v)
		assert.True(t, strings.HasPrefix(string(msg.Data), "{"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published lead")
	}
}
