package model

import (
	"testing"
	"time"
)

func TestIsSuccess(t *testing.T) {
	tests := []struct {
		status  Status
		success bool
	}{
		{StatusCompleted, true},
		{StatusFeedback, true},
		{StatusFailed, false},
		{StatusTimeout, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := IsSuccess(tt.status); got != tt.success {
				t.Errorf("IsSuccess(%q) = %v, want %v", tt.status, got, tt.success)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("completed"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ParseStatus("pending"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestParseUnitKind(t *testing.T) {
	for _, k := range []string{"task", "docs", "sync"} {
		if _, err := ParseUnitKind(k); err != nil {
			t.Errorf("ParseUnitKind(%q): %v", k, err)
		}
	}
	if _, err := ParseUnitKind("plan"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(StatusCompleted, StatusFeedback); got != 0 {
		t.Errorf("ExitCode(completed, feedback) = %d, want 0", got)
	}
	if got := ExitCode(StatusCompleted, StatusTimeout); got != 1 {
		t.Errorf("ExitCode(completed, timeout) = %d, want 1", got)
	}
	if got := ExitCode(); got != 0 {
		t.Errorf("ExitCode() = %d, want 0", got)
	}
}

func TestSummarize(t *testing.T) {
	results := []Result{
		{Status: StatusCompleted, Attempts: []Attempt{{
			WorkerMetadata:    &ExecutionMetadata{CostUSD: 0.5},
			ModeratorMetadata: &ExecutionMetadata{CostUSD: 0.25},
		}}},
		{Status: StatusFeedback},
		{Status: StatusFailed},
		{Status: StatusTimeout, Duration: time.Second},
	}
	s := Summarize(results)
	if s.Total != 4 || s.Completed != 1 || s.Feedback != 1 || s.Failed != 1 || s.Timeout != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.CostUSD != 0.75 {
		t.Errorf("CostUSD = %v, want 0.75", s.CostUSD)
	}
	if s.ExitCode() != 1 {
		t.Errorf("ExitCode = %d, want 1", s.ExitCode())
	}
}
