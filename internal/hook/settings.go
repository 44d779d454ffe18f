package hook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	atomicyaml "github.com/msageha/foreman/internal/yaml"
)

// HookEntry is one command hook in the agent's settings file.
type HookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

// HookGroup binds hooks to a tool matcher ("Write|Edit").
type HookGroup struct {
	Matcher string      `json:"matcher,omitempty"`
	Hooks   []HookEntry `json:"hooks"`
}

// Registration asks for command to run on event for the given tool matchers.
type Registration struct {
	Event    Event
	Matchers []string
	Command  string
	Timeout  int
}

// DefaultRegistrations points every validator at "<binary> hook <kind>".
func DefaultRegistrations(binary string, timeoutSec int) []Registration {
	cmd := func(k ValidatorKind) string { return binary + " hook " + string(k) }
	return []Registration{
		{Event: EventPreToolUse, Matchers: bashTools, Command: cmd(KindBash), Timeout: timeoutSec},
		{Event: EventPreToolUse, Matchers: editTools, Command: cmd(KindQuality), Timeout: timeoutSec},
		{Event: EventStop, Command: cmd(KindCompletion), Timeout: timeoutSec},
		{Event: EventSubagentStop, Command: cmd(KindCompletion), Timeout: timeoutSec},
	}
}

// BuildSettings groups registrations by event and command. Matchers of one
// group are de-duplicated and joined with "|".
func BuildSettings(regs []Registration) map[string][]HookGroup {
	type key struct {
		event   Event
		command string
	}
	var order []key
	matchers := make(map[key][]string)
	timeouts := make(map[key]int)
	for _, r := range regs {
		k := key{r.Event, r.Command}
		if _, seen := matchers[k]; !seen {
			order = append(order, k)
			matchers[k] = []string{}
		}
		matchers[k] = append(matchers[k], r.Matchers...)
		timeouts[k] = max(timeouts[k], r.Timeout)
	}

	out := make(map[string][]HookGroup)
	for _, k := range order {
		out[string(k.event)] = append(out[string(k.event)], HookGroup{
			Matcher: joinMatchers(matchers[k]),
			Hooks:   []HookEntry{{Type: "command", Command: k.command, Timeout: timeouts[k]}},
		})
	}
	return out
}

func joinMatchers(ms []string) string {
	seen := make(map[string]bool, len(ms))
	var uniq []string
	for _, m := range ms {
		for _, part := range strings.Split(m, "|") {
			if part != "" && !seen[part] {
				seen[part] = true
				uniq = append(uniq, part)
			}
		}
	}
	sort.Strings(uniq)
	return strings.Join(uniq, "|")
}

// MarshalSettings renders a settings document holding only hooks.
func MarshalSettings(hooks map[string][]HookGroup) ([]byte, error) {
	return json.MarshalIndent(map[string]any{"hooks": hooks}, "", "  ")
}

// WriteSettings replaces the "hooks" key of the settings file at path and
// keeps every other key. The file is written atomically.
func WriteSettings(path string, hooks map[string][]HookGroup) error {
	doc := make(map[string]json.RawMessage)
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(strings.TrimSpace(string(existing))) > 0 {
			if err := json.Unmarshal(existing, &doc); err != nil {
				return fmt.Errorf("parse existing settings %s: %w", path, err)
			}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("read settings: %w", err)
	}

	raw, err := json.Marshal(hooks)
	if err != nil {
		return fmt.Errorf("marshal hooks: %w", err)
	}
	doc["hooks"] = raw

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return atomicyaml.AtomicWriteRaw(path, append(data, '\n'), validateJSON)
}

func validateJSON(content []byte) error {
	if !json.Valid(content) {
		return errors.New("settings are not valid JSON")
	}
	return nil
}
