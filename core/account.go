package core

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/samber/oops"
)

// MaxUsernameLength bounds user names accepted by the account constructors.
const MaxUsernameLength = 64

type Option func(*Account)

func WithRegistry(r *Registry) Option {
	return func(a *Account) { a.registry = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Account) { a.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(a *Account) { a.now = now }
}

// Account owns one account record and the auth task currently working on it.
// All mutations of the record go through the Account.
type Account struct {
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
	events   observers
	uses     atomic.Int64

	mu      sync.Mutex
	data    AccountData
	current *Task
}

func newAccount(data AccountData, opts []Option) *Account {
	a := &Account{
		data:   data,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = NewRegistry(LocalProvider{Now: a.now})
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("account_id", data.InternalID, "account_type", string(data.Type))
	a.events.logger = a.logger
	return a
}

// ValidateUsername checks a user name handed to an account constructor.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("ACCOUNT_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("ACCOUNT_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if strings.IndexFunc(username, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return oops.Code("ACCOUNT_INVALID_USERNAME").Errorf("username cannot contain whitespace")
	}
	return nil
}

// CreateBlankMSA returns an account waiting for an interactive login.
func CreateBlankMSA(opts ...Option) *Account {
	return newAccount(AccountData{
		InternalID: newInternalID(),
		Type:       AccountTypeMSA,
	}, opts)
}

// CreateFromUsername returns a Mojang account waiting for a password login.
func CreateFromUsername(username string, opts ...Option) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	data := AccountData{
		InternalID: newInternalID(),
		Type:       AccountTypeMojang,
	}
	data.LegacyToken.SetExtra(ExtraUserName, username)
	data.LegacyToken.SetExtra(ExtraClientToken, NewClientToken())
	return newAccount(data, opts), nil
}

// CreateLocal returns an offline account that is immediately usable.
func CreateLocal(username string, opts ...Option) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	a := newAccount(AccountData{
		InternalID: newInternalID(),
		Type:       AccountTypeLocal,
	}, opts)

	a.data.LegacyToken.Validity = ValidityCertain
	a.data.LegacyToken.IssuedAt = a.now().UTC()
	a.data.LegacyToken.SetExtra(ExtraUserName, username)
	a.data.LegacyToken.SetExtra(ExtraClientToken, NewClientToken())
	a.data.Profile = Profile{
		ID:       OfflineProfileID(username),
		Name:     username,
		Validity: ValidityCertain,
	}
	a.data.Entitlement = Entitlement{OwnsGame: true, CanPlay: true}
	a.data.Validity = ValidityCertain
	return a, nil
}

// CreateElyby returns an Ely.by account waiting for a password login.
func CreateElyby(username string, opts ...Option) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	data := AccountData{
		InternalID: newInternalID(),
		Type:       AccountTypeElyby,
		Profile: Profile{
			ID:       OfflineProfileID(username),
			Name:     username,
			Validity: ValidityCertain,
		},
		Entitlement: Entitlement{OwnsGame: true, CanPlay: true},
	}
	data.LegacyToken.SetExtra(ExtraUserName, username)
	data.LegacyToken.SetExtra(ExtraClientToken, NewClientToken())
	return newAccount(data, opts), nil
}

// RestoreAccount rebuilds an account from a persisted snapshot.
func RestoreAccount(data AccountData, opts ...Option) (*Account, error) {
	if data.InternalID == "" {
		return nil, oops.Code("ACCOUNT_INVALID_SNAPSHOT").Errorf("snapshot has no internal id")
	}
	if _, err := ParseAccountType(string(data.Type)); err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_SNAPSHOT").
			With("account_id", data.InternalID).
			Wrap(err)
	}
	return newAccount(data.Restored(), opts), nil
}

func (a *Account) ID() string {
	return a.data.InternalID
}

func (a *Account) Type() AccountType {
	return a.data.Type
}

// Snapshot returns a deep copy of the record.
func (a *Account) Snapshot() AccountData {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data.Clone()
}

func (a *Account) Validity() Validity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data.Validity
}

// Subscribe registers fn for change and activity events. Events are
// delivered synchronously on the goroutine that caused them.
func (a *Account) Subscribe(fn func(Event)) (unsubscribe func()) {
	return a.events.subscribe(fn)
}

// Login starts a password login with the provider of the account type.
func (a *Account) Login(password string) (*Task, error) {
	return a.begin(ActionLogin, func() (Flow, error) {
		p, err := a.registry.Lookup(a.data.Type)
		if err != nil {
			return nil, err
		}
		return p.PasswordLogin(password)
	})
}

// LoginInteractive starts the provider's interactive login.
func (a *Account) LoginInteractive() (*Task, error) {
	return a.begin(ActionLoginInteractive, func() (Flow, error) {
		p, err := a.registry.Lookup(a.data.Type)
		if err != nil {
			return nil, err
		}
		return p.InteractiveLogin()
	})
}

// LoginLocal starts an offline login from the stored user name. Only
// local accounts support it.
func (a *Account) LoginLocal() (*Task, error) {
	return a.begin(ActionLoginLocal, func() (Flow, error) {
		if a.data.Type != AccountTypeLocal {
			return nil, ErrUnsupportedOperation
		}
		return localFlow(a.now), nil
	})
}

// Refresh returns the active task if there is one, and otherwise starts
// the provider's silent refresh.
func (a *Account) Refresh() (*Task, error) {
	return a.begin(ActionRefresh, func() (Flow, error) {
		p, err := a.registry.Lookup(a.data.Type)
		if err != nil {
			return nil, err
		}
		return p.Refresh()
	})
}

func (a *Account) CurrentTask() *Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Account) IsActive() bool {
	return a.CurrentTask() != nil
}

func (a *Account) begin(action Action, build func() (Flow, error)) (*Task, error) {
	a.mu.Lock()
	if a.current != nil && action == ActionRefresh {
		t := a.current
		a.mu.Unlock()
		return t, nil
	}
	if a.current != nil {
		active := a.current.ID()
		a.mu.Unlock()
		return nil, oops.Code("ACCOUNT_TASK_ACTIVE").
			With("account_id", a.data.InternalID).
			With("active_task_id", active.String()).
			With("action", string(action)).
			Wrap(ErrTaskActive)
	}

	flow, err := build()
	if err != nil {
		a.mu.Unlock()
		if errors.Is(err, ErrUnsupportedOperation) {
			return nil, oops.Code("ACCOUNT_OPERATION_UNSUPPORTED").
				With("account_id", a.data.InternalID).
				With("account_type", string(a.data.Type)).
				With("action", string(action)).
				Wrap(err)
		}
		return nil, err
	}

	t := newTask(action, a.data, flow, a.complete, a.logger)
	a.current = t
	a.mu.Unlock()

	activeTasks.Inc()
	a.logger.Info("auth task created", "task_id", t.ID().String(), "action", string(action))
	a.events.publish(Event{Kind: EventActivityStarted, AccountID: a.data.InternalID, TaskID: t.ID()})
	return t, nil
}

// complete applies the outcome of t to the record. The record change is
// published before the end of the activity.
func (a *Account) complete(t *Task) {
	state, kind, update := t.outcome()

	a.mu.Lock()
	if a.current != t {
		a.mu.Unlock()
		a.logger.Warn("ignoring outcome of a task the account does not own", "task_id", t.ID().String())
		return
	}
	applyOutcome(&a.data, state, kind, update)
	a.current = nil
	validity := a.data.Validity
	a.mu.Unlock()

	activeTasks.Dec()
	recordTaskOutcome(t)

	attrs := []any{
		"task_id", t.ID().String(),
		"action", string(t.Action()),
		"state", state.String(),
		"validity", validity.String(),
	}
	if state == TaskFailed {
		attrs = append(attrs, "failure", kind.String(), "reason", t.Reason())
		if kind.Transient() {
			a.logger.Warn("auth task failed", attrs...)
		} else {
			a.logger.Error("auth task failed", attrs...)
		}
	} else {
		a.logger.Info("auth task succeeded", attrs...)
	}

	a.events.publish(Event{Kind: EventChanged, AccountID: a.data.InternalID, TaskID: t.ID()})
	a.events.publish(Event{Kind: EventActivityEnded, AccountID: a.data.InternalID, TaskID: t.ID()})
}

// applyOutcome is the failure classification policy.
func applyOutcome(d *AccountData, state TaskState, kind FailureKind, update Update) {
	switch state {
	case TaskSucceeded:
		update.applyTo(d)
	case TaskFailed:
		switch kind {
		case FailureHard:
			if d.Type.Native() {
				d.NativeToken.Invalidate()
			} else {
				d.LegacyToken.Invalidate()
			}
			d.Validity = ValidityNone
		case FailureGone:
			// The tokens stay: the account is dead, not its credential.
			d.Validity = ValidityNone
		}
	}
}

func (a *Account) UseCount() int64 {
	return a.uses.Load()
}

func (a *Account) InUse() bool {
	return a.uses.Load() > 0
}

// IncrementUses marks one more consumer depending on the credentials.
func (a *Account) IncrementUses() {
	if a.uses.Add(1) == 1 {
		a.logger.Info("profile is now in use", "profile_id", a.Snapshot().ProfileID())
		a.events.publish(Event{Kind: EventChanged, AccountID: a.data.InternalID})
	}
}

// DecrementUses releases one consumer. The counter never drops below zero.
func (a *Account) DecrementUses() {
	for {
		n := a.uses.Load()
		if n <= 0 {
			a.logger.Warn("releasing an account that is not in use")
			return
		}
		if a.uses.CompareAndSwap(n, n-1) {
			if n == 1 {
				a.logger.Info("profile is no longer in use", "profile_id", a.Snapshot().ProfileID())
				a.events.publish(Event{Kind: EventChanged, AccountID: a.data.InternalID})
			}
			return
		}
	}
}

// ShouldRefresh applies the refresh policy at now.
func (a *Account) ShouldRefresh(now time.Time) bool {
	inUse := a.InUse()
	a.mu.Lock()
	defer a.mu.Unlock()
	return ShouldRefresh(a.data, inUse, now)
}

// FillSession builds the launch session descriptor.
func (a *Account) FillSession(wantsOnline bool) SessionDescriptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return FillSession(a.data, wantsOnline)
}
