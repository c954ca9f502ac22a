package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/heavyhunt/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultMandrillEndpoint is the Mandrill send API.
const DefaultMandrillEndpoint = "https://mandrillapp.com/api/1.0/messages/send.json"

// MandrillConfig configures the Mandrill notifier.
type MandrillConfig struct {
	APIKey       string
	FromEmail    string
	FromName     string
	AdminEmail   string
	DashboardURL string
	Endpoint     string
	Timeout      time.Duration
}

// Mandrill sends the visitor a confirmation and the sales team a new-lead
// alert for every completed lead.
type Mandrill struct {
	cfg    MandrillConfig
	client *http.Client
	logger *slog.Logger
}

// NewMandrill creates a Mandrill notifier.
func NewMandrill(cfg MandrillConfig, logger *slog.Logger) *Mandrill {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultMandrillEndpoint
	}
	if cfg.FromEmail == "" {
		cfg.FromEmail = "noreply@heavyhunt.com"
	}
	if cfg.FromName == "" {
		cfg.FromName = "HeavyHunt Team"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Mandrill{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type mandrillRecipient struct {
	Email string `json:"email"`
	Type  string `json:"type"`
}

type mandrillMessage struct {
	FromEmail   string              `json:"from_email"`
	FromName    string              `json:"from_name"`
	To          []mandrillRecipient `json:"to"`
	Subject     string              `json:"subject"`
	HTML        string              `json:"html"`
	Text        string              `json:"text"`
	AutoText    bool                `json:"auto_text"`
	TrackOpens  bool                `json:"track_opens"`
	TrackClicks bool                `json:"track_clicks"`
}

type mandrillRequest struct {
	Key     string          `json:"key"`
	Message mandrillMessage `json:"message"`
}

type mandrillResult struct {
	Email        string `json:"email"`
	Status       string `json:"status"`
	RejectReason string `json:"reject_reason"`
	ID           string `json:"_id"`
}

// Notify implements Notifier. Both emails are attempted; failures are joined.
func (m *Mandrill) Notify(ctx context.Context, lead domain.Lead) error {
	data := newEmailData(lead, m.cfg.DashboardURL)

	var errs []error
	if to := lead.Email(); to != "" {
		subject := fmt.Sprintf("HeavyHunt - Your %s Inquiry Confirmation", data.MachineOr("Machinery"))
		if err := m.send(ctx, to, m.cfg.FromName, subject, userConfirmationTmpl, data); err != nil {
			errs = append(errs, fmt.Errorf("user confirmation: %w", err))
		}
	}
	if m.cfg.AdminEmail != "" {
		subject := fmt.Sprintf("New Lead: %s Inquiry from %s", data.MachineOr("Machinery"), data.NameOr("Customer"))
		if err := m.send(ctx, m.cfg.AdminEmail, "HeavyHunt Lead System", subject, adminNotificationTmpl, data); err != nil {
			errs = append(errs, fmt.Errorf("admin notification: %w", err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("mandrill: %w", errors.Join(errs...))
}

func (m *Mandrill) send(ctx context.Context, to, fromName, subject string, tmpl *template.Template, data emailData) error {
	var html bytes.Buffer
	if err := tmpl.Execute(&html, data); err != nil {
		return fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}

	body, err := json.Marshal(mandrillRequest{
		Key: m.cfg.APIKey,
		Message: mandrillMessage{
			FromEmail:   m.cfg.FromEmail,
			FromName:    fromName,
			To:          []mandrillRecipient{{Email: to, Type: "to"}},
			Subject:     subject,
			HTML:        html.String(),
			Text:        stripTags(html.String()),
			AutoText:    true,
			TrackOpens:  true,
			TrackClicks: true,
		},
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			m.logger.Warn("failed to close mandrill response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var results []mandrillResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	for _, r := range results {
		if r.Status == "rejected" || r.Status == "invalid" {
			return fmt.Errorf("recipient %s %s: %s", r.Email, r.Status, r.RejectReason)
		}
	}

	messageID := "unknown"
	if len(results) > 0 && results[0].ID != "" {
		messageID = results[0].ID
	}
	m.logger.Info("Email sent", "template", tmpl.Name(), "to", to, "message_id", messageID)
	return nil
}

type emailData struct {
	SessionID    string
	Email        string
	Summary      string
	DashboardURL string
	Fields       []emailField
	values       domain.LeadContext
}

type emailField struct {
	Label string
	Value string
}

func newEmailData(lead domain.Lead, dashboardURL string) emailData {
	labels := []struct {
		field domain.Field
		label string
	}{
		{domain.FieldMachineType, "Machine Type"},
		{domain.FieldCondition, "Condition"},
		{domain.FieldSource, "Source"},
		{domain.FieldDelivery, "Delivery"},
		{domain.FieldBudget, "Budget"},
		{domain.FieldName, "Name"},
		{domain.FieldEmail, "Email"},
		{domain.FieldPhone, "Phone"},
	}
	fields := make([]emailField, 0, len(labels))
	for _, l := range labels {
		v, ok := lead.Context.Get(l.field)
		if !ok {
			v = "Not specified"
		}
		fields = append(fields, emailField{Label: l.label, Value: v})
	}
	email := lead.Email()
	if email == "" {
		email = lead.ContactIdentifier
	}
	return emailData{
		SessionID:    lead.SessionID,
		Email:        email,
		Summary:      lead.Summary,
		DashboardURL: dashboardURL,
		Fields:       fields,
		values:       lead.Context,
	}
}

func (d emailData) MachineOr(fallback string) string {
	if v, ok := d.values.Get(domain.FieldMachineType); ok {
		return v
	}
	return fallback
}

func (d emailData) NameOr(fallback string) string {
	if v, ok := d.values.Get(domain.FieldName); ok {
		return v
	}
	return fallback
}

var userConfirmationTmpl = template.Must(template.New("user_confirmation").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>HeavyHunt - Your Machinery Inquiry</title></head>
<body>
<h1>HeavyHunt</h1>
<h2>Thank you for your inquiry, {{.NameOr "Valued Customer"}}!</h2>
<p>We've received your heavy machinery request and our team is already working on finding the perfect solution for you.</p>
<p>Ref no for this conversation: {{.SessionID}}</p>
<h3>Your Inquiry Summary</h3>
<table>
{{range .Fields}}<tr><td>{{.Label}}:</td><td>{{.Value}}</td></tr>
{{end}}</table>
<p><strong>What happens next?</strong></p>
<ul>
<li>Our machinery experts will review your requirements</li>
<li>We'll source the best options from our network of suppliers</li>
<li>You'll receive detailed quotes within 24-48 hours</li>
<li>Our team will contact you at {{.Email}} to discuss next steps</li>
</ul>
<p>HeavyHunt - Your trusted partner for heavy machinery solutions</p>
</body>
</html>
`))

var adminNotificationTmpl = template.Must(template.New("admin_notification").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>New Lead - HeavyHunt</title></head>
<body>
<h1>New Lead Alert</h1>
<h2>New Customer Inquiry Received</h2>
<p>Conversation: {{.SessionID}}</p>
<table>
{{range .Fields}}<tr><td>{{.Label}}:</td><td>{{.Value}}</td></tr>
{{end}}</table>
<h4>Full Summary:</h4>
<p>{{.Summary}}</p>
<p><strong>Action Required:</strong> Please contact this lead within 2 hours.</p>
{{if .DashboardURL}}<p><a href="{{.DashboardURL}}">Open the admin dashboard</a></p>{{end}}
</body>
</html>
`))

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func stripTags(html string) string {
	lines := strings.Split(tagPattern.ReplaceAllString(html, ""), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
