// Package transcript turns the agent's JSONL conversation log into a bounded
// window of recent messages for moderator review.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

const maxLineSize = 10 * 1024 * 1024

// Message is one user or assistant turn with reminder blocks removed.
type Message struct {
	Role      string
	Timestamp string
	Text      string
}

type entry struct {
	Type      string          `json:"type"`
	Message   json.RawMessage `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type body struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type block struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

var reminderRe = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>`)

// StripReminders removes <system-reminder>...</system-reminder> blocks.
func StripReminders(s string) string {
	return strings.TrimSpace(reminderRe.ReplaceAllString(s, ""))
}

// ParseFile reads a transcript file. Malformed lines are skipped.
func ParseFile(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	msgs, _, err := Parse(f)
	return msgs, err
}

// Parse returns user and assistant messages in file order and the number of
// lines that could not be decoded.
func Parse(r io.Reader) (msgs []Message, skipped int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			skipped++
			continue
		}
		if e.Type != "user" && e.Type != "assistant" {
			continue
		}
		var b body
		if len(e.Message) > 0 {
			if err := json.Unmarshal(e.Message, &b); err != nil {
				skipped++
				continue
			}
		}
		text := StripReminders(contentText(b.Content))
		if text == "" {
			continue
		}
		role := b.Role
		if role == "" {
			role = e.Type
		}
		msgs = append(msgs, Message{Role: role, Timestamp: e.Timestamp, Text: text})
	}
	if err := sc.Err(); err != nil {
		return msgs, skipped, fmt.Errorf("read transcript: %w", err)
	}
	return msgs, skipped, nil
}

// contentText flattens string or block-array content.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "tool_use":
			parts = append(parts, fmt.Sprintf("[tool_use %s] %s", b.Name, compact(b.Input)))
		case "tool_result":
			parts = append(parts, "[tool_result] "+contentText(b.Content))
		}
	}
	return strings.Join(parts, "\n")
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
