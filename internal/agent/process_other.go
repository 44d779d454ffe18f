//go:build !unix

package agent

import (
	"context"
	"io"
	"strings"
	"time"
)

type unsupportedProcess struct{}

func newProcess(ProcessSpec) ProcessHandle { return unsupportedProcess{} }

func (unsupportedProcess) Start(context.Context) error { return ErrUnsupportedPlatform }
func (unsupportedProcess) Wait(time.Duration) error    { return ErrUnsupportedPlatform }
func (unsupportedProcess) Done() <-chan struct{}       { return nil }
func (unsupportedProcess) TerminateGroup() error       { return ErrUnsupportedPlatform }
func (unsupportedProcess) PID() int                    { return 0 }
func (unsupportedProcess) Stdout() io.Reader           { return strings.NewReader("") }
func (unsupportedProcess) Stderr() string              { return "" }
func (unsupportedProcess) Close() error                { return nil }
