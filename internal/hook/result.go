package hook

import (
	"encoding/json"
	"fmt"
)

type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionBlock Decision = "block"
)

// Result is the decision for one Input.
type Result struct {
	Decision Decision
	Reason   string
	Event    Event
}

func Allow(ev Event) Result { return Result{Decision: DecisionAllow, Event: ev} }

// Reject denies a tool call or blocks a stop, whichever fits ev.
func Reject(ev Event, reason string) Result {
	if ev.IsStop() {
		return Result{Decision: DecisionBlock, Reason: reason, Event: ev}
	}
	return Result{Decision: DecisionDeny, Reason: reason, Event: ev}
}

func (r Result) Allowed() bool { return r.Decision == DecisionAllow }

type preToolUseOutput struct {
	HookSpecificOutput permissionOutput `json:"hookSpecificOutput"`
}

type permissionOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

type stopOutput struct {
	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Marshal renders the decision document for r.Event. Stop events use
// {"decision":"block","reason":...} and {} to allow; everything else uses the
// PreToolUse permission format.
func (r Result) Marshal() ([]byte, error) {
	if r.Event.IsStop() {
		if r.Allowed() {
			return json.Marshal(stopOutput{})
		}
		return json.Marshal(stopOutput{Decision: string(DecisionBlock), Reason: r.Reason})
	}
	decision := DecisionDeny
	if r.Allowed() {
		decision = DecisionAllow
	}
	return json.Marshal(preToolUseOutput{HookSpecificOutput: permissionOutput{
		HookEventName:            string(EventPreToolUse),
		PermissionDecision:       string(decision),
		PermissionDecisionReason: r.Reason,
	}})
}

// ParseOutput reads a decision document back. ev selects the format.
func ParseOutput(ev Event, data []byte) (Result, error) {
	if ev.IsStop() {
		var out stopOutput
		if err := json.Unmarshal(data, &out); err != nil {
			return Result{}, fmt.Errorf("parse stop decision: %w", err)
		}
		if out.Decision == string(DecisionBlock) {
			return Result{Decision: DecisionBlock, Reason: out.Reason, Event: ev}, nil
		}
		return Allow(ev), nil
	}
	var out preToolUseOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, fmt.Errorf("parse permission decision: %w", err)
	}
	d := Decision(out.HookSpecificOutput.PermissionDecision)
	if d != DecisionAllow && d != DecisionDeny {
		return Result{}, fmt.Errorf("unknown permission decision %q", d)
	}
	return Result{Decision: d, Reason: out.HookSpecificOutput.PermissionDecisionReason, Event: ev}, nil
}
