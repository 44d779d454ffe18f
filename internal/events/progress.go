// Package events records orchestration progress to per-run JSONL files and
// fans live progress out to in-process subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxLogSize = 50 * 1024 * 1024
	LogFileExtension  = ".jsonl"
	ArchiveDir        = "archive"
)

// Progress steps written around every agent call.
const (
	StepUnitStarted    = "unit_started"
	StepWorkerStarted  = "worker_started"
	StepWorkerFinished = "worker_finished"
	StepReviewStarted  = "moderator_started"
	StepReviewFinished = "moderator_finished"
	StepUnitFinished   = "unit_finished"
)

// Entry is one progress log line.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Step      string         `json:"step"`
	RunID     string         `json:"run_id,omitempty"`
	Unit      string         `json:"unit,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// ProgressLog is an append-only JSONL file with size-based rotation. Safe for
// concurrent use by units of the same run.
type ProgressLog struct {
	mu              sync.Mutex
	file            *os.File
	path            string
	runID           string
	size            int64
	maxSize         int64
	rotationCounter int
}

// OpenProgressLog opens (or creates) <dir>/<runID>.jsonl.
func OpenProgressLog(dir, runID string, maxSize int64) (*ProgressLog, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create progress dir: %w", err)
	}
	l := &ProgressLog{
		path:    filepath.Join(dir, runID+LogFileExtension),
		runID:   runID,
		maxSize: maxSize,
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *ProgressLog) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open progress log: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat progress log: %w", err)
	}
	l.file = f
	l.size = st.Size()
	return nil
}

// Record appends one step for unit.
func (l *ProgressLog) Record(unit, step string, attempt int, details map[string]any) error {
	return l.Write(&Entry{
		Timestamp: time.Now().UTC(),
		Step:      step,
		RunID:     l.runID,
		Unit:      unit,
		Attempt:   attempt,
		Details:   details,
	})
}

func (l *ProgressLog) Write(e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("progress log closed")
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal progress entry: %w", err)
	}
	data = append(data, '\n')

	if l.size+int64(len(data)) > l.maxSize && l.size > 0 {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate progress log: %w", err)
		}
	}
	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("write progress entry: %w", err)
	}
	l.size += int64(n)
	return nil
}

func (l *ProgressLog) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	l.file = nil

	archive := filepath.Join(filepath.Dir(l.path), ArchiveDir)
	if err := os.MkdirAll(archive, 0o755); err != nil {
		return err
	}
	l.rotationCounter++
	base := strings.TrimSuffix(filepath.Base(l.path), LogFileExtension)
	name := fmt.Sprintf("%s.%s.%d%s", base, time.Now().Format("20060102_150405"), l.rotationCounter, LogFileExtension)
	if err := os.Rename(l.path, filepath.Join(archive, name)); err != nil {
		return err
	}
	return l.open()
}

func (l *ProgressLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Sync()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
