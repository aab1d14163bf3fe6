// Package runner drives one workspace translation as a shell child process.
//
// A Run is an explicit state machine. Tick is the only place the running
// state advances: it collects whatever output is available and checks whether
// the child exited. Callers poll Tick on a fixed interval (Wait does this).
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/fmebridge/internal/errors"
	"github.com/hpungsan/fmebridge/internal/logging"
)

// DefaultInterval is the poll period between ticks.
const DefaultInterval = 100 * time.Millisecond

// waitDelay bounds how long Wait keeps pipes open after the child exits.
const waitDelay = 2 * time.Second

// Options configure a Run.
type Options struct {
	// DestPath must exist after a zero exit for the run to succeed.
	DestPath string
	// Dir is the child's working directory. Empty inherits ours.
	Dir    string
	Logger *logging.Logger
}

// ProcessError reports a failure to spawn or signal the child.
type ProcessError struct {
	Command string
	Stage   string
	Cause   error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Stage, e.Command, e.Cause)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// Result is a point-in-time copy of a run.
type Result struct {
	State      State     `json:"state"`
	Status     string    `json:"status"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Output     string    `json:"output"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Run is one execution of a command line.
type Run struct {
	mu sync.Mutex

	command string
	opts    Options
	log     *logging.Logger

	state    State
	status   string
	exitCode *int
	lines    []string

	cmd    *exec.Cmd
	stdout *lineBuffer
	stderr bytes.Buffer
	exited chan error

	startedAt  time.Time
	finishedAt time.Time
}

// New prepares a run in the idle state. Nothing is spawned until Start.
func New(command string, opts Options) *Run {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Run{
		command: command,
		opts:    opts,
		log:     log.Component("runner"),
		state:   StateIdle,
		lines:   []string{},
	}
}

// Command returns the command line this run executes.
func (r *Run) Command() string {
	return r.command
}

// Start spawns the shell child.
func (r *Run) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.NewCancelled("run start")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return fmt.Errorf("invalid transition: expected %s, got %s", StateIdle, r.state)
	}

	cmd := shellCommand(r.command)
	cmd.Dir = r.opts.Dir
	cmd.Stdin = nil
	cmd.WaitDelay = waitDelay
	r.stdout = &lineBuffer{}
	cmd.Stdout = r.stdout
	cmd.Stderr = &r.stderr

	r.startedAt = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		r.lines = append(r.lines, err.Error())
		r.finish(StateFailed, StatusFailed)
		return &ProcessError{Command: r.command, Stage: "start", Cause: err}
	}

	r.cmd = cmd
	r.exited = make(chan error, 1)
	go func() {
		r.exited <- cmd.Wait()
	}()

	r.transition(StateRunning, StatusRunning)
	r.log.Info().Int("pid", cmd.Process.Pid).Msg("translation started")
	return nil
}

// Tick collects available stdout lines and, if the child has exited, settles
// the final state. It returns the lines gathered by this tick.
func (r *Run) Tick() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRunning {
		return nil
	}

	fresh := r.stdout.takeLines(false)
	r.lines = append(r.lines, fresh...)

	select {
	case err := <-r.exited:
		fresh = append(fresh, r.settle(err)...)
	default:
	}
	return fresh
}

// Cancel kills the child and marks the run cancelled. Cancelling a finished
// run is a no-op.
func (r *Run) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.state == StateIdle:
		r.finish(StateCancelled, StatusCancelled)
		return nil
	case r.state.IsTerminal():
		return nil
	}

	if err := terminate(r.cmd); err != nil {
		r.log.Warn().Err(err).Msg("terminate failed")
	}
	<-r.exited

	r.lines = append(r.lines, r.stdout.takeLines(true)...)
	r.setExitCode(nil)
	r.finish(StateCancelled, StatusCancelled)
	return nil
}

// Wait ticks every interval until the run is terminal. onTick, if set,
// receives the lines gathered by each tick. When ctx ends first the run is
// cancelled and a CANCELLED error is returned.
func (r *Run) Wait(ctx context.Context, interval time.Duration, onTick func([]string)) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		lines := r.Tick()
		if onTick != nil {
			onTick(lines)
		}
		if r.State().IsTerminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			if err := r.Cancel(); err != nil {
				return err
			}
			return errors.NewCancelled("run")
		case <-ticker.C:
		}
	}
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Result returns a copy of the run's current state and output.
func (r *Run) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Result{
		State:      r.state,
		Status:     r.status,
		ExitCode:   r.exitCode,
		Output:     strings.Join(r.lines, "\n"),
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
	}
}

// settle runs once, after the child exits. Caller holds r.mu.
func (r *Run) settle(waitErr error) []string {
	tail := r.stdout.takeLines(true)
	if errText := strings.TrimRight(r.stderr.String(), "\r\n"); errText != "" {
		tail = append(tail, "Errors:", errText)
	}
	r.lines = append(r.lines, tail...)
	r.setExitCode(waitErr)

	switch {
	case *r.exitCode != 0:
		r.finish(StateFailed, StatusFailed)
	case !fileExists(r.opts.DestPath):
		r.finish(StateFailed, StatusOutputMissing)
	default:
		r.finish(StateSucceeded, StatusSucceeded)
	}
	return tail
}

func (r *Run) setExitCode(waitErr error) {
	code := -1
	if r.cmd != nil && r.cmd.ProcessState != nil {
		code = r.cmd.ProcessState.ExitCode()
	}
	if waitErr == nil && code < 0 {
		code = 0
	}
	r.exitCode = &code
}

func (r *Run) finish(to State, status string) {
	r.finishedAt = time.Now().UTC()
	r.transition(to, status)
	var ev *zerolog.Event
	if to == StateSucceeded {
		ev = r.log.Info()
	} else {
		ev = r.log.Warn()
	}
	if r.exitCode != nil {
		ev = ev.Int("exit_code", *r.exitCode)
	}
	ev.Str("state", string(to)).Msg(status)
}

func (r *Run) transition(to State, status string) {
	if !isAllowedTransition(r.state, to) {
		panic(fmt.Sprintf("disallowed transition: %s -> %s", r.state, to))
	}
	r.state = to
	r.status = status
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// lineBuffer collects child stdout. exec writes from its own goroutine while
// Tick reads, so access is locked.
type lineBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// takeLines removes complete lines from the buffer. With flush set, a final
// unterminated line is returned too.
func (b *lineBuffer) takeLines(flush bool) []string {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	data := b.buf.Bytes()
	n := bytes.LastIndexByte(data, '\n') + 1
	if flush {
		n = len(data)
	}
	if n == 0 {
		return nil
	}

	chunk := strings.TrimRight(string(data[:n]), "\r\n")
	b.buf.Next(n)
	if chunk == "" {
		return nil
	}

	lines := strings.Split(chunk, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	return lines
}
