package planner

import (
	"fmt"
	"strings"
)

// template is a pattern-matched fallback sequence: invoice verification,
// payment tracking, or customer 360.
type template struct {
	name      string
	keywords  []string
	agents    []string
	reasoning map[string]string
}

func defaultTemplates() []template {
	return []template{
		{
			name:     "invoice_verification",
			keywords: []string{"invoice", "bill", "purchase order", "po "},
			agents:   []string{"planner", "invoice", "analysis"},
			reasoning: map[string]string{
				"planner":  "clarify the invoice verification request",
				"invoice":  "pull invoice and payment records",
				"analysis": "summarize the verification outcome",
			},
		},
		{
			name:     "payment_tracking",
			keywords: []string{"payment status", "payment tracking", "has been paid", "check payment"},
			agents:   []string{"planner", "invoice"},
			reasoning: map[string]string{
				"planner": "clarify the payment tracking request",
				"invoice": "look up payment status",
			},
		},
		{
			name:     "customer_360",
			keywords: []string{"customer", "crm", "salesforce", "account history"},
			agents:   []string{"planner", "salesforce", "gmail", "analysis"},
			reasoning: map[string]string{
				"planner":    "clarify the customer 360 request",
				"salesforce": "pull CRM account data",
				"gmail":      "pull recent correspondence",
				"analysis":   "synthesize a customer summary",
			},
		},
	}
}

// fallback pattern-matches taskDescription against the template table; if
// none match it emits the minimum viable sequence [planner, analysis].
// Every candidate name is checked against catalog — an agent referenced
// by a template but absent from this deployment's registry is dropped,
// mirroring the sanitizer's unknown-agent rule.
func (p *Planner) fallback(taskDescription string, catalog AgentCatalog) (AgentSequence, error) {
	lower := strings.ToLower(taskDescription)

	for _, t := range p.templates {
		if matchesTemplate(lower, t.keywords) {
			agents := filterKnown(t.agents, catalog)
			if hasNonPlannerAgent(agents) {
				return AgentSequence{
					Agents:             agents,
					Reasoning:          t.reasoning,
					ComplexityScore:    0.3,
					EstimatedDurationS: 60,
				}, nil
			}
		}
	}

	minimal := filterKnown([]string{"planner", "analysis"}, catalog)
	if !hasNonPlannerAgent(minimal) {
		return AgentSequence{}, fmt.Errorf("%w: %s", ErrAllAgentsUnknown, taskDescription)
	}
	return AgentSequence{
		Agents:             minimal,
		Reasoning:          map[string]string{"planner": "default triage", "analysis": "summarize findings"},
		ComplexityScore:    0.1,
		EstimatedDurationS: 30,
	}, nil
}

func matchesTemplate(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func filterKnown(agents []string, catalog AgentCatalog) []string {
	out := make([]string, 0, len(agents))
	for _, a := range agents {
		if catalog.Exists(a) {
			out = append(out, a)
		}
	}
	return out
}
