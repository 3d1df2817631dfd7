// Package demoagents provides the reference agents named by the
// planner's template table: deterministic stand-ins with no real MCP
// calls, registered by cmd/orchestratord at startup. They are not part
// of the core engine.
package demoagents

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/finflow-ai/orchestrator/internal/errs"
	"github.com/finflow-ai/orchestrator/internal/registry"
	"github.com/finflow-ai/orchestrator/internal/state"
)

func message(agent, content string) state.Message {
	return state.Message{Agent: agent, Content: content, Timestamp: time.Now()}
}

func delta(agent, content string, data map[string]any) state.State {
	return state.State{
		Messages:      []state.Message{message(agent, content)},
		CollectedData: map[string]any{agent: data},
	}
}

// Planner is the synthetic first step many templates open with: it does
// not call the real planner service, it just produces a planning note
// message so the workflow has a human-readable opening line.
func Planner() registry.Descriptor {
	return registry.Descriptor{
		Name: "planner",
		Fn: func(ctx context.Context, in state.State) (state.State, error) {
			note := fmt.Sprintf("Planning workflow for: %s", in.TaskDescription)
			return delta("planner", note, map[string]any{"note": note}), nil
		},
	}
}

// Invoice simulates invoice lookup/verification.
func Invoice() registry.Descriptor {
	return registry.Descriptor{
		Name: "invoice",
		Fn: func(ctx context.Context, in state.State) (state.State, error) {
			return delta("invoice", "Invoice status: paid", map[string]any{
				"invoice_id": "INV-1001",
				"status":     "paid",
			}), nil
		},
	}
}

// GmailConfig controls the configurable failure rate used to exercise
// the transient-retry path.
type GmailConfig struct {
	// FailEveryNth, when > 0, makes every Nth invocation return a
	// transient error instead of succeeding.
	FailEveryNth int
}

// Gmail simulates an email lookup, occasionally returning a transient
// error so the executor's retry/backoff path is exercised.
func Gmail(cfg GmailConfig) registry.Descriptor {
	var calls int64
	return registry.Descriptor{
		Name: "gmail",
		Fn: func(ctx context.Context, in state.State) (state.State, error) {
			n := atomic.AddInt64(&calls, 1)
			if cfg.FailEveryNth > 0 && n%int64(cfg.FailEveryNth) == 0 {
				return state.State{}, errs.New(errs.KindTransient, "gmail", "fetch", "simulated upstream timeout", nil)
			}
			return delta("gmail", "Found 2 related emails", map[string]any{
				"email_count": 2,
			}), nil
		},
	}
}

// Salesforce simulates a CRM lookup ("customer 360").
func Salesforce() registry.Descriptor {
	return registry.Descriptor{
		Name: "salesforce",
		Fn: func(ctx context.Context, in state.State) (state.State, error) {
			return delta("salesforce", "Customer record retrieved", map[string]any{
				"account_id": "ACC-42",
				"tier":       "gold",
			}), nil
		},
	}
}

// Analysis simulates a final audit/analysis pass summarizing prior steps.
func Analysis() registry.Descriptor {
	return registry.Descriptor{
		Name: "analysis",
		Fn: func(ctx context.Context, in state.State) (state.State, error) {
			summary := fmt.Sprintf("Analyzed %d prior step(s)", in.CurrentStep)
			return delta("analysis", summary, map[string]any{
				"steps_analyzed": in.CurrentStep,
			}), nil
		},
	}
}

// RegisterAll registers every built-in demo agent into r.
func RegisterAll(r *registry.AgentRegistry, gmailCfg GmailConfig) error {
	for _, d := range []registry.Descriptor{
		Planner(),
		Invoice(),
		Gmail(gmailCfg),
		Salesforce(),
		Analysis(),
	} {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
