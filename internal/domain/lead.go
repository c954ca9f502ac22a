// Package domain contains core domain types for the HeavyHunt lead service.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Field names one slot of a lead record.
type Field string

// Known lead fields, in presentation order.
const (
	FieldMachineType Field = "machineType"
	FieldCondition   Field = "condition"
	FieldSource      Field = "source"
	FieldDelivery    Field = "delivery"
	FieldBudget      Field = "budget"
	FieldName        Field = "name"
	FieldEmail       Field = "email"
	FieldPhone       Field = "phone"
)

// AllFields lists every field a lead can carry.
var AllFields = []Field{
	FieldMachineType,
	FieldCondition,
	FieldSource,
	FieldDelivery,
	FieldBudget,
	FieldName,
	FieldEmail,
	FieldPhone,
}

// DefaultRequiredFields is the mandatory set a lead must fill before handoff.
// Name is collected when offered but never blocks completion.
var DefaultRequiredFields = []Field{
	FieldMachineType,
	FieldCondition,
	FieldSource,
	FieldDelivery,
	FieldBudget,
	FieldEmail,
	FieldPhone,
}

// IsKnown reports whether f is one of AllFields.
func (f Field) IsKnown() bool {
	for _, k := range AllFields {
		if k == f {
			return true
		}
	}
	return false
}

// LeadContext maps a field to its current value. A missing key is the
// unset (null) value; stored values are never blank.
type LeadContext map[Field]string

// Get returns the value of f and whether it is set.
func (c LeadContext) Get(f Field) (string, bool) {
	v, ok := c[f]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Clone returns an independent copy of c.
func (c LeadContext) Clone() LeadContext {
	out := make(LeadContext, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Missing returns the fields of required that are not set in c, in order.
func (c LeadContext) Missing(required []Field) []Field {
	var missing []Field
	for _, f := range required {
		if _, ok := c.Get(f); !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// Merge combines current with a turn's partial update. Fields set in
// incoming replace the current value; fields unset in incoming keep it.
// Neither argument is modified.
func Merge(current, incoming LeadContext) LeadContext {
	out := current.Clone()
	for f, v := range incoming {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out[f] = v
	}
	return out
}

// IsComplete reports whether every field in required is set in c.
func IsComplete(c LeadContext, required []Field) bool {
	for _, f := range required {
		if _, ok := c.Get(f); !ok {
			return false
		}
	}
	return true
}

// DecodeLeadContext converts a loosely typed object from the extraction
// collaborator into a partial context. Unknown keys and values that are not
// non-blank strings are treated as absent.
func DecodeLeadContext(raw map[string]any) LeadContext {
	out := make(LeadContext)
	for k, v := range raw {
		f := Field(k)
		if !f.IsKnown() {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "null") {
			continue
		}
		out[f] = s
	}
	return out
}

// MarshalJSON writes every known field, unset ones as null.
func (c LeadContext) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range AllFields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(f))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		v, ok := c.Get(f)
		if !ok {
			buf.WriteString("null")
			continue
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the same loose shape DecodeLeadContext does.
func (c *LeadContext) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode lead context: %w", err)
	}
	*c = DecodeLeadContext(raw)
	return nil
}

// Summary renders the context as a single line for people reading the lead.
func (c LeadContext) Summary() string {
	labels := map[Field]string{
		FieldMachineType: "Machine",
		FieldCondition:   "Condition",
		FieldSource:      "Source",
		FieldDelivery:    "Delivery",
		FieldBudget:      "Budget",
		FieldName:        "Name",
		FieldEmail:       "Email",
		FieldPhone:       "Phone",
	}
	parts := make([]string, 0, len(AllFields))
	for _, f := range AllFields {
		if v, ok := c.Get(f); ok {
			parts = append(parts, labels[f]+": "+v)
		}
	}
	return strings.Join(parts, "; ")
}

// Lead is the structured record handed to persistence and notification once
// a conversation completes.
type Lead struct {
	ID                string      `json:"id"`
	SessionID         string      `json:"session_id"`
	ContactIdentifier string      `json:"contact_identifier"`
	Summary           string      `json:"summary"`
	Context           LeadContext `json:"lead_context"`
	CreatedAt         time.Time   `json:"created_at"`
}

// Email returns the handoff delivery address of the lead.
func (l *Lead) Email() string {
	v, _ := l.Context.Get(FieldEmail)
	return v
}
