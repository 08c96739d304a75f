package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

var ErrTaskActive = errors.New("an auth task is already active for this account")

type TaskState int

const (
	TaskCreated TaskState = iota
	TaskWorking
	TaskSucceeded
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskWorking:
		return "working"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// FailureKind classifies a failed task.
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureOffline: the provider could not be reached.
	FailureOffline
	// FailureSoft: recoverable rejection such as rate limiting.
	FailureSoft
	// FailureHard: the credential is proven invalid.
	FailureHard
	// FailureGone: the account no longer exists at the provider.
	FailureGone
	// FailureMustMigrate: the account needs a migration we cannot do.
	FailureMustMigrate
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureOffline:
		return "offline"
	case FailureSoft:
		return "soft"
	case FailureHard:
		return "hard"
	case FailureGone:
		return "gone"
	case FailureMustMigrate:
		return "must_migrate"
	default:
		return fmt.Sprintf("failure(%d)", int(k))
	}
}

// Transient reports whether the failure leaves the account untouched.
func (k FailureKind) Transient() bool {
	return k == FailureOffline || k == FailureSoft || k == FailureMustMigrate
}

// Code is the oops error code used for a task failing with k.
func (k FailureKind) Code() string {
	return "TASK_FAILED_" + strings.ToUpper(k.String())
}

type Action string

const (
	ActionLogin            Action = "login"
	ActionLoginInteractive Action = "login_interactive"
	ActionLoginLocal       Action = "login_local"
	ActionRefresh          Action = "refresh"
)

// Task is one attempt to obtain or refresh a credential. It is created
// by an Account, started by the caller, and never restarted.
type Task struct {
	id          ulid.ULID
	action      Action
	accountID   string
	accountType AccountType
	flow        Flow
	snapshot    AccountData
	complete    func(*Task)
	logger      *slog.Logger
	done        chan struct{}

	mu         sync.Mutex
	state      TaskState
	failure    FailureKind
	reason     string
	status     string
	update     Update
	startedAt  time.Time
	finishedAt time.Time
}

func newTask(action Action, account AccountData, flow Flow, complete func(*Task), logger *slog.Logger) *Task {
	id := NewULID()
	return &Task{
		id:          id,
		action:      action,
		accountID:   account.InternalID,
		accountType: account.Type,
		flow:        flow,
		snapshot:    account.Clone(),
		complete:    complete,
		logger:      logger.With("task_id", id.String(), "action", string(action)),
		done:        make(chan struct{}),
	}
}

func (t *Task) ID() ulid.ULID            { return t.id }
func (t *Task) Action() Action           { return t.action }
func (t *Task) AccountID() string        { return t.accountID }
func (t *Task) AccountType() AccountType { return t.accountType }

// Done is closed once the owning account has processed the outcome.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) Failure() FailureKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure
}

func (t *Task) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Status is the last progress message reported by the flow.
func (t *Task) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Duration is the time between Start and the terminal report.
func (t *Task) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() || t.finishedAt.IsZero() {
		return 0
	}
	return t.finishedAt.Sub(t.startedAt)
}

// Start runs the flow on its own goroutine.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state != TaskCreated {
		state := t.state
		t.mu.Unlock()
		return oops.Code("TASK_ALREADY_STARTED").
			With("task_id", t.id.String()).
			With("state", state.String()).
			Errorf("task cannot be started twice")
	}
	t.state = TaskWorking
	t.startedAt = time.Now()
	t.mu.Unlock()

	t.logger.Debug("auth task started")
	go t.run(ctx)
	return nil
}

// Wait blocks until the task has finished or ctx is done. It returns nil
// when the task succeeded and a coded error describing the failure otherwise.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the failure of a finished task, or nil.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TaskFailed {
		return nil
	}
	return oops.Code(t.failure.Code()).
		With("task_id", t.id.String()).
		With("action", string(t.action)).
		With("failure", t.failure.String()).
		Errorf("%s", t.reason)
}

func (t *Task) run(ctx context.Context) {
	r := &taskReporter{task: t}
	defer func() {
		if p := recover(); p != nil {
			r.Failed(FailureSoft, fmt.Sprintf("auth flow panicked: %v", p))
			return
		}
		if !t.finished() {
			r.Failed(FailureSoft, "auth flow finished without reporting an outcome")
		}
	}()

	t.flow.Run(ctx, t.snapshot.Clone(), r)
}

func (t *Task) finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Terminal()
}

func (t *Task) finish(state TaskState, kind FailureKind, reason string, update Update) {
	t.mu.Lock()
	if t.state != TaskWorking {
		current := t.state
		t.mu.Unlock()
		t.logger.Warn("ignoring extra auth task report",
			"state", current.String(),
			"reported", state.String(),
			"failure", kind.String(),
		)
		return
	}
	t.state = state
	t.failure = kind
	t.reason = reason
	t.update = update
	t.finishedAt = time.Now()
	t.mu.Unlock()
	defer close(t.done)

	if t.complete != nil {
		t.complete(t)
	}
}

func (t *Task) outcome() (TaskState, FailureKind, Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.failure, t.update
}

type taskReporter struct {
	task *Task
}

func (r *taskReporter) Progress(status string) {
	r.task.mu.Lock()
	defer r.task.mu.Unlock()
	if r.task.state == TaskWorking {
		r.task.status = status
	}
}

func (r *taskReporter) Succeeded(update Update) {
	r.task.finish(TaskSucceeded, FailureNone, "", update)
}

func (r *taskReporter) Failed(kind FailureKind, reason string) {
	if kind == FailureNone {
		kind = FailureSoft
	}
	r.task.finish(TaskFailed, kind, reason, Update{})
}
