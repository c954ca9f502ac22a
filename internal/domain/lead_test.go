package domain

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestMergeRightBiasedNullPreserving(t *testing.T) {
	current := LeadContext{
		FieldMachineType: "bulldozer",
		FieldCondition:   "used",
		FieldBudget:      "$50,000",
	}
	incoming := LeadContext{
		FieldCondition: "new",
		FieldSource:    "imported",
		FieldBudget:    "  ",
	}

	got := Merge(current, incoming)

	want := LeadContext{
		FieldMachineType: "bulldozer",
		FieldCondition:   "new",
		FieldSource:      "imported",
		FieldBudget:      "$50,000",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Merge() = %v, want %v", got, want)
	}
	if current[FieldCondition] != "used" {
		t.Errorf("Merge mutated current: %v", current)
	}
}

func TestMergeSequentialEqualsCombined(t *testing.T) {
	c := LeadContext{FieldMachineType: "crane"}
	p1 := LeadContext{FieldCondition: "used", FieldSource: "local"}
	p2 := LeadContext{FieldSource: "imported", FieldDelivery: "2 weeks"}

	sequential := Merge(Merge(c, p1), p2)
	combined := Merge(c, Merge(p1, p2))

	if !reflect.DeepEqual(sequential, combined) {
		t.Fatalf("sequential %v != combined %v", sequential, combined)
	}
	if sequential[FieldCondition] != "used" {
		t.Errorf("field present only in p1 was lost: %v", sequential)
	}
	if sequential[FieldSource] != "imported" {
		t.Errorf("p2 did not override source: %v", sequential)
	}
}

func TestMergeIdempotent(t *testing.T) {
	c := LeadContext{FieldMachineType: "loader"}
	p := LeadContext{FieldBudget: "20 lakhs", FieldEmail: "a@b.com"}

	once := Merge(c, p)
	twice := Merge(once, p)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("Merge not idempotent: %v vs %v", once, twice)
	}
}

func TestMergeEmptyIncomingKeepsEverything(t *testing.T) {
	c := LeadContext{FieldMachineType: "grader", FieldPhone: "+919800000000"}
	if got := Merge(c, nil); !reflect.DeepEqual(got, c) {
		t.Fatalf("Merge(c, nil) = %v, want %v", got, c)
	}
	if got := Merge(nil, c); !reflect.DeepEqual(got, c) {
		t.Fatalf("Merge(nil, c) = %v, want %v", got, c)
	}
}

func TestScenarioFirstTurnSingleField(t *testing.T) {
	got := Merge(LeadContext{}, LeadContext{FieldMachineType: "bulldozer"})

	if v, _ := got.Get(FieldMachineType); v != "bulldozer" {
		t.Fatalf("machineType = %q, want bulldozer", v)
	}
	for _, f := range AllFields {
		if f == FieldMachineType {
			continue
		}
		if _, ok := got.Get(f); ok {
			t.Errorf("field %s unexpectedly set", f)
		}
	}
	if IsComplete(got, DefaultRequiredFields) {
		t.Error("IsComplete = true after a single field")
	}
}

func TestScenarioSecondTurnRetainsFirst(t *testing.T) {
	got := Merge(LeadContext{FieldMachineType: "bulldozer"}, LeadContext{FieldCondition: "used"})
	want := LeadContext{FieldMachineType: "bulldozer", FieldCondition: "used"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Merge() = %v, want %v", got, want)
	}
}

func TestIsCompleteOnlyWhenLastFieldArrives(t *testing.T) {
	c := LeadContext{
		FieldMachineType: "excavator",
		FieldCondition:   "new",
		FieldSource:      "local",
		FieldDelivery:    "1 month",
		FieldBudget:      "₹35 lakh",
		FieldPhone:       "+919811111111",
	}
	if IsComplete(c, DefaultRequiredFields) {
		t.Fatal("IsComplete = true before email")
	}
	if missing := c.Missing(DefaultRequiredFields); !reflect.DeepEqual(missing, []Field{FieldEmail}) {
		t.Fatalf("Missing() = %v, want [email]", missing)
	}

	c = Merge(c, LeadContext{FieldEmail: "x@y.com"})
	if !IsComplete(c, DefaultRequiredFields) {
		t.Fatal("IsComplete = false after email")
	}
}

func TestIsCompleteEmptyRequiredSet(t *testing.T) {
	if !IsComplete(nil, nil) {
		t.Error("IsComplete(nil, nil) should be vacuously true")
	}
}

func TestDecodeLeadContextDropsMalformed(t *testing.T) {
	raw := map[string]any{
		"machineType": "crane",
		"condition":   nil,
		"budget":      50000,
		"source":      "   ",
		"delivery":    "null",
		"email":       []any{"a@b.com"},
		"phone":       " +91 98 ",
		"favourite":   "blue",
	}

	got := DecodeLeadContext(raw)

	want := LeadContext{FieldMachineType: "crane", FieldPhone: "+91 98"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DecodeLeadContext() = %v, want %v", got, want)
	}
}

func TestLeadContextJSONListsEveryField(t *testing.T) {
	data, err := json.Marshal(LeadContext{FieldMachineType: "paver"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(raw) != len(AllFields) {
		t.Fatalf("got %d keys, want %d: %s", len(raw), len(AllFields), data)
	}
	if raw["machineType"] != "paver" {
		t.Errorf("machineType = %v", raw["machineType"])
	}
	if v, ok := raw["email"]; !ok || v != nil {
		t.Errorf("email = %v (present=%v), want null", v, ok)
	}

	var back LeadContext
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal LeadContext: %v", err)
	}
	if !reflect.DeepEqual(back, LeadContext{FieldMachineType: "paver"}) {
		t.Errorf("round trip = %v", back)
	}
}

func TestSummary(t *testing.T) {
	c := LeadContext{FieldMachineType: "forklift", FieldBudget: "$20,000", FieldEmail: "a@b.com"}
	want := "Machine: forklift; Budget: $20,000; Email: a@b.com"
	if got := c.Summary(); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}
