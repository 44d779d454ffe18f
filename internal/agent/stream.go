package agent

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/foreman/internal/model"
)

// Event types emitted by the agent with --output-format stream-json.
const (
	EventTypeSystem    = "system"
	EventTypeAssistant = "assistant"
	EventTypeUser      = "user"
	EventTypeResult    = "result"
)

// StreamEvent is the envelope of one stream-json line. Unknown fields are ignored.
type StreamEvent struct {
	Type      string         `json:"type"`
	Subtype   string         `json:"subtype,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Message   *StreamMessage `json:"message,omitempty"`

	// result events
	Result        string       `json:"result,omitempty"`
	TotalCostUSD  *float64     `json:"total_cost_usd,omitempty"`
	CostUSD       *float64     `json:"cost_usd,omitempty"`
	DurationMS    float64      `json:"duration_ms,omitempty"`
	DurationAPIMS float64      `json:"duration_api_ms,omitempty"`
	NumTurns      int          `json:"num_turns,omitempty"`
	IsError       bool         `json:"is_error,omitempty"`
	Usage         *model.Usage `json:"usage,omitempty"`
}

type StreamMessage struct {
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is one typed block of an assistant message: text, tool_use or tool_result.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	ID    string          `json:"id,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// UnmarshalJSON accepts "message" as either an object or a bare string.
func (m *StreamMessage) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = StreamMessage{Content: []ContentBlock{{Type: "text", Text: s}}}
		return nil
	}
	type plain StreamMessage
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = StreamMessage(p)
	return nil
}

// ParseStreamEvent decodes one stream-json output line.
func ParseStreamEvent(line []byte) (StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return StreamEvent{}, err
	}
	return ev, nil
}

// streamAccumulator folds stream events into an ExecutionResult.
type streamAccumulator struct {
	logger *zap.Logger
	text   strings.Builder
	final  string
	meta   *model.ExecutionMetadata
	lines  int
	bad    int
}

func (a *streamAccumulator) consume(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	a.lines++
	ev, err := ParseStreamEvent([]byte(line))
	if err != nil {
		a.bad++
		a.logger.Debug("skip non-JSON stream line", zap.Error(err))
		return
	}
	switch ev.Type {
	case EventTypeResult:
		a.meta = resultMetadata(ev)
		a.final = ev.Result
	case EventTypeAssistant:
		if ev.Message == nil {
			return
		}
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "text":
				if block.Text == "" {
					continue
				}
				if a.text.Len() > 0 {
					a.text.WriteString("\n")
				}
				a.text.WriteString(block.Text)
			case "tool_use":
				a.logger.Debug("agent tool call", zap.String("tool", block.Name), zap.String("id", block.ID))
			}
		}
	}
}

// output prefers the accumulated assistant text and falls back to the result event body.
func (a *streamAccumulator) output() string {
	if a.text.Len() > 0 {
		return a.text.String()
	}
	return a.final
}

func resultMetadata(ev StreamEvent) *model.ExecutionMetadata {
	meta := &model.ExecutionMetadata{
		Duration:    time.Duration(ev.DurationMS * float64(time.Millisecond)),
		APIDuration: time.Duration(ev.DurationAPIMS * float64(time.Millisecond)),
		NumTurns:    ev.NumTurns,
		Usage:       ev.Usage,
		IsError:     ev.IsError,
	}
	switch {
	case ev.TotalCostUSD != nil:
		meta.CostUSD = *ev.TotalCostUSD
	case ev.CostUSD != nil:
		meta.CostUSD = *ev.CostUSD
	}
	return meta
}
