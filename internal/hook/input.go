// Package hook implements the agent's hook commands: it reads one decision
// request on stdin, decides allow, deny or block, and writes exactly one
// decision document to stdout.
package hook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Event is the hook_event_name the agent sends.
type Event string

const (
	EventPreToolUse   Event = "PreToolUse"
	EventStop         Event = "Stop"
	EventSubagentStop Event = "SubagentStop"
)

// IsStop reports whether e uses the Stop decision format.
func (e Event) IsStop() bool {
	return e == EventStop || e == EventSubagentStop
}

var ErrInputTooLarge = errors.New("hook input exceeds size limit")

// Input is one decision request.
type Input struct {
	SessionID      string         `json:"session_id"`
	EventName      Event          `json:"hook_event_name"`
	ToolName       string         `json:"tool_name,omitempty"`
	ToolInput      map[string]any `json:"tool_input,omitempty"`
	TranscriptPath string         `json:"transcript_path,omitempty"`
	Cwd            string         `json:"cwd,omitempty"`
	StopHookActive bool           `json:"stop_hook_active,omitempty"`
}

// DefaultMaxInputBytes bounds a request when no limit is configured.
const DefaultMaxInputBytes = 10 * 1024 * 1024

// ReadInput decodes one request from r. Inputs larger than maxBytes are
// rejected without being parsed.
func ReadInput(r io.Reader, maxBytes int) (Input, error) {
	return readInput(r, maxBytes, "")
}

// readInput is ReadInput with fallback used when hook_event_name is absent.
func readInput(r io.Reader, maxBytes int, fallback Event) (Input, error) {
	var in Input
	data, err := io.ReadAll(io.LimitReader(r, int64(maxBytes)+1))
	if err != nil {
		return in, fmt.Errorf("read hook input: %w", err)
	}
	if len(data) > maxBytes {
		return in, fmt.Errorf("%w (%d bytes)", ErrInputTooLarge, maxBytes)
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("parse hook input: %w", err)
	}
	if in.EventName == "" {
		in.EventName = fallback
	}
	if in.EventName == "" {
		return in, errors.New("hook input has no hook_event_name")
	}
	return in, nil
}

// Strings returns every string value nested in tool_input, in key order.
// With fields set, only values under those keys are returned.
func (in Input) Strings(fields ...string) []string {
	var only map[string]bool
	if len(fields) > 0 {
		only = make(map[string]bool, len(fields))
		for _, f := range fields {
			only[f] = true
		}
	}
	var out []string
	collect(in.ToolInput, only, only == nil, &out)
	return out
}

func collect(v any, only map[string]bool, take bool, out *[]string) {
	switch t := v.(type) {
	case string:
		if take {
			*out = append(*out, t)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collect(t[k], only, take || only[k], out)
		}
	case []any:
		for _, e := range t {
			collect(e, only, take, out)
		}
	}
}
