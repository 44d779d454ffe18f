package transcript

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const DefaultTokenBudget = 100_000

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

type CounterFunc func(string) int

func (f CounterFunc) Count(text string) int { return f(text) }

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// TiktokenCounter counts with cl100k_base. The encoding is loaded on first use;
// if it cannot be loaded the character heuristic is used instead.
type TiktokenCounter struct{}

func (TiktokenCounter) Count(text string) int {
	encOnce.Do(func() {
		if e, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			enc = e
		}
	})
	if enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return EstimateTokens(text)
}

// EstimateTokens is max(runes/4, words), at least 1 for non-blank text.
func EstimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	return max(estimate, 1)
}

// Format renders messages as <message role="..." timestamp="..."> blocks.
func Format(msgs []Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "<message role=%q timestamp=%q>\n%s\n</message>",
			html.EscapeString(m.Role), html.EscapeString(m.Timestamp), m.Text)
	}
	return sb.String()
}

// Window returns the formatted block of the largest number of most recent
// messages whose rendering stays within budget tokens, and that number.
func Window(msgs []Message, budget int, counter Counter) (string, int) {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	if counter == nil {
		counter = TiktokenCounter{}
	}
	n := len(msgs)
	fits := func(k int) bool {
		return counter.Count(Format(msgs[n-k:])) <= budget
	}
	// sort.Search finds the first k that does not fit; k-1 is the answer.
	k := sort.Search(n, func(i int) bool { return !fits(i + 1) })
	if k == 0 {
		return "", 0
	}
	return Format(msgs[n-k:]), k
}
