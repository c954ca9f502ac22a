package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/heavyhunt/internal/domain"
)

var fieldDescriptions = map[domain.Field]string{
	domain.FieldMachineType: "type of heavy machinery (excavator, bulldozer, crane, loader, backhoe, grader, forklift, compactor, paver, trencher, dumper, skid steer, ...)",
	domain.FieldCondition:   "condition, \"new\" or \"used\"",
	domain.FieldSource:      "source, \"imported\" or \"local\"",
	domain.FieldDelivery:    "expected delivery timeframe",
	domain.FieldBudget:      "budget",
	domain.FieldName:        "customer name (optional)",
	domain.FieldEmail:       "contact email",
	domain.FieldPhone:       "contact phone number",
}

const promptRules = `VALIDATION RULES (friendly + flexible):
- Machinery: accept common heavy machinery types even when surrounded by extra words. Only reject if no machinery is mentioned.
- Condition: "second-hand" or "anyone which costs less" means used, "brand new" means new. "doesn't matter" needs a polite re-ask with examples.
- Source: "from abroad" means imported, "nearby dealer" means local.
- Delivery: must be a timeframe ("ASAP", "2 weeks", "next month"). Politely reject anything else with examples.
- Budget: accept realistic amounts. If far too low for heavy machinery, explain typical budgets with examples.
- Contact: email and phone must look valid; re-ask politely otherwise.

TONE: acknowledge what the customer already gave, include examples when re-asking, keep a warm professional sales tone.

OUT OF SCOPE: if the request is unrelated to heavy machinery, decline politely and set "unServicable" to true.

COMPLETION: once every required detail is collected, thank the customer, say the team will contact them soon, and give a one paragraph summary.`

const promptFormat = `Respond with strict JSON only, no prose around it:
{
  "message": "<reply to the customer>",
  "leadContext": {%s},
  "isQueryCompleted": <true|false>,
  "summary": <null or one paragraph summary>,
  "userEmail": <null or the customer's email>,
  "unServicable": <true|false>
}
In "leadContext" give the value you know for each field or null. Never drop a value that CURRENT LEAD CONTEXT already holds unless the customer corrected it.`

// BuildSystemPrompt renders the instructions sent with every turn.
func BuildSystemPrompt(required []domain.Field, current domain.LeadContext) string {
	var b strings.Builder
	b.WriteString("You are the conversation agent for HeavyHunt, a heavy machinery marketplace.\n")
	b.WriteString("Your only job is to collect the customer's requirements, asking only for details that are still missing.\n\n")

	b.WriteString("Required details:\n")
	for _, f := range required {
		fmt.Fprintf(&b, "- %s: %s\n", f, fieldDescriptions[f])
	}
	b.WriteString("\n")
	b.WriteString(promptRules)
	b.WriteString("\n\n")

	keys := make([]string, 0, len(domain.AllFields))
	for _, f := range domain.AllFields {
		keys = append(keys, fmt.Sprintf("%q: <string|null>", string(f)))
	}
	fmt.Fprintf(&b, promptFormat, strings.Join(keys, ", "))
	b.WriteString("\n\n")

	ctxJSON, err := json.Marshal(current)
	if err != nil {
		ctxJSON = []byte("{}")
	}
	b.WriteString("CURRENT LEAD CONTEXT: ")
	b.Write(ctxJSON)
	b.WriteString("\n")
	return b.String()
}
