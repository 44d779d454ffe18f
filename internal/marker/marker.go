// Package marker classifies the completion markers agents embed in free text.
// Matching is tolerant: markers may appear anywhere in the output.
package marker

import (
	"regexp"
	"strings"
)

const (
	WorkDone          = "WORK DONE"
	FeedbackPrefix    = "FEEDBACK:"
	ValidationUnclear = "validation unclear"
)

type WorkKind string

const (
	WorkKindDone     WorkKind = "work_done"
	WorkKindFeedback WorkKind = "feedback"
	WorkKindNone     WorkKind = "none"
)

// Work is the classification of one worker output.
type Work struct {
	Kind     WorkKind
	Feedback string
}

var (
	feedbackRe = regexp.MustCompile(`(?ms)^[ \t]*FEEDBACK:[ \t]*(.*)`)
	passRe     = regexp.MustCompile(`\bPASS\b`)
	failRe     = regexp.MustCompile(`(?s)\bFAIL:[ \t]*(.*)`)
	allowRe    = regexp.MustCompile(`\bALLOW\b`)
	blockRe    = regexp.MustCompile(`(?s)\bBLOCK:[ \t]*(.*)`)
)

// ParseWork classifies worker output. FEEDBACK counts only at the start of a
// line, so quoted instructions do not trigger it, and it takes precedence over
// WORK DONE when both are present.
func ParseWork(output string) Work {
	if m := feedbackRe.FindStringSubmatch(output); m != nil {
		return Work{Kind: WorkKindFeedback, Feedback: strings.TrimSpace(m[1])}
	}
	if strings.Contains(output, WorkDone) {
		return Work{Kind: WorkKindDone}
	}
	return Work{Kind: WorkKindNone}
}

// Review is a moderator verdict on a completion claim.
type Review struct {
	Pass   bool
	Reason string
	// Clear is false when neither PASS nor FAIL was found.
	Clear bool
}

// ParseReview parses PASS / FAIL: <reason>. FAIL wins when both appear and
// output with neither marker fails with ValidationUnclear.
func ParseReview(output string) Review {
	if m := failRe.FindStringSubmatch(output); m != nil {
		reason := strings.TrimSpace(m[1])
		if reason == "" {
			reason = "moderator rejected the work without a reason"
		}
		return Review{Reason: reason, Clear: true}
	}
	if passRe.MatchString(output) {
		return Review{Pass: true, Clear: true}
	}
	return Review{Reason: ValidationUnclear}
}

// Gate is a moderator decision on a stop request.
type Gate struct {
	Allow  bool
	Reason string
	Clear  bool
}

// ParseGate parses ALLOW / BLOCK: <reason>. Unparseable output blocks.
func ParseGate(output string) Gate {
	if m := blockRe.FindStringSubmatch(output); m != nil {
		reason := strings.TrimSpace(m[1])
		if reason == "" {
			reason = "moderator blocked without a reason"
		}
		return Gate{Reason: reason, Clear: true}
	}
	if allowRe.MatchString(output) {
		return Gate{Allow: true, Clear: true}
	}
	return Gate{Reason: "moderator response could not be parsed; " + ValidationUnclear}
}
