package model

import "fmt"

// Status is the terminal state of one orchestrated unit of work.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFeedback  Status = "feedback"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// UnitKind names the workflow that produced a Result.
type UnitKind string

const (
	KindTask UnitKind = "task"
	KindDocs UnitKind = "docs"
	KindSync UnitKind = "sync"
)

var validStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusFeedback:  true,
	StatusFailed:    true,
	StatusTimeout:   true,
}

var validKinds = map[UnitKind]bool{
	KindTask: true,
	KindDocs: true,
	KindSync: true,
}

// IsSuccess reports whether s should map to a zero exit status.
// feedback counts as success: the worker stopped cleanly and asked for input.
func IsSuccess(s Status) bool {
	return s == StatusCompleted || s == StatusFeedback
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func ParseUnitKind(s string) (UnitKind, error) {
	k := UnitKind(s)
	if !validKinds[k] {
		return "", fmt.Errorf("unknown unit kind %q", s)
	}
	return k, nil
}

// ExitCode maps a set of unit statuses to a process exit status.
func ExitCode(statuses ...Status) int {
	for _, s := range statuses {
		if !IsSuccess(s) {
			return 1
		}
	}
	return 0
}
