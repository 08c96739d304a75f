package core

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	"accountd/errutil"
)

// DefaultSaveTimeout bounds a repository write triggered by an account change.
const DefaultSaveTimeout = 5 * time.Second

// AccountList is the set of accounts known to the launcher. It keeps the
// repository in sync with every account it holds.
type AccountList struct {
	repo        AccountRepository
	logger      *slog.Logger
	opts        []Option
	saveTimeout time.Duration

	mu        sync.RWMutex
	accounts  []*Account
	unsubs    map[string]func()
	defaultID string
}

// NewAccountList returns an empty list backed by repo. opts are applied to
// every account the list creates or restores.
func NewAccountList(repo AccountRepository, logger *slog.Logger, opts ...Option) *AccountList {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountList{
		repo:        repo,
		logger:      logger,
		opts:        append([]Option{WithLogger(logger)}, opts...),
		saveTimeout: DefaultSaveTimeout,
		unsubs:      make(map[string]func()),
	}
}

// Load replaces the in-memory list with the accounts stored in the
// repository. Snapshots that cannot be restored are skipped.
func (l *AccountList) Load(ctx context.Context) error {
	stored, err := l.repo.ListAccounts(ctx)
	if err != nil {
		return oops.Code("ACCOUNT_LIST_LOAD_FAILED").Wrap(err)
	}
	defaultID, err := l.repo.DefaultAccountID(ctx)
	if err != nil {
		return oops.Code("ACCOUNT_LIST_LOAD_FAILED").Wrap(err)
	}

	restored := make([]*Account, 0, len(stored))
	for _, data := range stored {
		a, err := RestoreAccount(data, l.opts...)
		if err != nil {
			errutil.LogError(l.logger, "skipping stored account", err, "account_id", data.InternalID)
			continue
		}
		restored = append(restored, a)
	}

	l.mu.Lock()
	for _, unsub := range l.unsubs {
		unsub()
	}
	l.accounts = nil
	l.unsubs = make(map[string]func())
	for _, a := range restored {
		l.track(a)
	}
	if defaultID != "" && l.indexOf(defaultID) < 0 {
		l.logger.Warn("default account is missing", "account_id", defaultID)
		defaultID = ""
	}
	l.defaultID = defaultID
	l.mu.Unlock()

	l.logger.Info("accounts loaded", "count", len(restored))
	return nil
}

// Create builds a new account of type t. username is ignored for MSA
// accounts, which learn their name from the provider.
func (l *AccountList) Create(ctx context.Context, t AccountType, username string) (*Account, error) {
	var (
		a   *Account
		err error
	)
	switch t {
	case AccountTypeMSA:
		a = CreateBlankMSA(l.opts...)
	case AccountTypeMojang:
		a, err = CreateFromUsername(username, l.opts...)
	case AccountTypeElyby:
		a, err = CreateElyby(username, l.opts...)
	case AccountTypeLocal:
		a, err = CreateLocal(username, l.opts...)
	default:
		err = oops.Code("ACCOUNT_TYPE_INVALID").
			With("account_type", string(t)).
			Errorf("unknown account type %q", t)
	}
	if err != nil {
		return nil, err
	}
	if err := l.Add(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Add stores a and starts tracking it. An existing account of the same
// type with the same profile is replaced, and keeps its default status.
func (l *AccountList) Add(ctx context.Context, a *Account) error {
	snap := a.Snapshot()
	if err := l.repo.SaveAccount(ctx, &snap); err != nil {
		return oops.Code("ACCOUNT_SAVE_FAILED").With("account_id", snap.InternalID).Wrap(err)
	}

	l.mu.Lock()
	replaced := l.duplicateOf(snap)
	if replaced != nil {
		l.untrack(replaced.ID())
	}
	l.track(a)
	wasDefault := replaced != nil && l.defaultID == replaced.ID()
	if wasDefault {
		l.defaultID = a.ID()
	}
	l.mu.Unlock()

	if replaced == nil {
		l.logger.Info("account added", "account_id", a.ID(), "account_type", string(a.Type()))
		return nil
	}

	l.logger.Info("account replaced",
		"account_id", a.ID(),
		"replaced_id", replaced.ID(),
		"profile_id", snap.ProfileID(),
	)
	if err := l.repo.DeleteAccount(ctx, replaced.ID()); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("ACCOUNT_DELETE_FAILED").With("account_id", replaced.ID()).Wrap(err)
	}
	if wasDefault {
		if err := l.repo.SetDefaultAccountID(ctx, a.ID()); err != nil {
			return oops.Code("ACCOUNT_SAVE_FAILED").With("account_id", a.ID()).Wrap(err)
		}
	}
	return nil
}

// Remove forgets the account with the given id.
func (l *AccountList) Remove(ctx context.Context, id string) error {
	l.mu.Lock()
	if l.indexOf(id) < 0 {
		l.mu.Unlock()
		return notFound(id)
	}
	l.untrack(id)
	wasDefault := l.defaultID == id
	if wasDefault {
		l.defaultID = ""
	}
	l.mu.Unlock()

	if err := l.repo.DeleteAccount(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("ACCOUNT_DELETE_FAILED").With("account_id", id).Wrap(err)
	}
	if wasDefault {
		if err := l.repo.SetDefaultAccountID(ctx, ""); err != nil {
			return oops.Code("ACCOUNT_SAVE_FAILED").Wrap(err)
		}
	}
	l.logger.Info("account removed", "account_id", id)
	return nil
}

func (l *AccountList) Get(id string) (*Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i := l.indexOf(id)
	if i < 0 {
		return nil, notFound(id)
	}
	return l.accounts[i], nil
}

// All returns the accounts in insertion order.
func (l *AccountList) All() []*Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.accounts)
}

func (l *AccountList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}

// Default returns the default account, or nil when none is set.
func (l *AccountList) Default() *Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := l.indexOf(l.defaultID); i >= 0 {
		return l.accounts[i]
	}
	return nil
}

// SetDefault marks the account with the given id as the default. An empty
// id clears the default.
func (l *AccountList) SetDefault(ctx context.Context, id string) error {
	l.mu.Lock()
	if id != "" && l.indexOf(id) < 0 {
		l.mu.Unlock()
		return notFound(id)
	}
	l.defaultID = id
	l.mu.Unlock()

	if err := l.repo.SetDefaultAccountID(ctx, id); err != nil {
		return oops.Code("ACCOUNT_SAVE_FAILED").With("account_id", id).Wrap(err)
	}
	return nil
}

// track must be called with l.mu held.
func (l *AccountList) track(a *Account) {
	l.accounts = append(l.accounts, a)
	l.unsubs[a.ID()] = a.Subscribe(func(e Event) {
		if e.Kind == EventChanged {
			l.persist(a)
		}
	})
}

// untrack must be called with l.mu held.
func (l *AccountList) untrack(id string) {
	if unsub, ok := l.unsubs[id]; ok {
		unsub()
		delete(l.unsubs, id)
	}
	l.accounts = slices.DeleteFunc(l.accounts, func(a *Account) bool { return a.ID() == id })
}

func (l *AccountList) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(l.accounts, func(a *Account) bool { return a.ID() == id })
}

func (l *AccountList) duplicateOf(snap AccountData) *Account {
	profileID := snap.ProfileID()
	if profileID == "" {
		return nil
	}
	for _, other := range l.accounts {
		if other.ID() == snap.InternalID || other.Type() != snap.Type {
			continue
		}
		if other.Snapshot().ProfileID() == profileID {
			return other
		}
	}
	return nil
}

func (l *AccountList) persist(a *Account) {
	ctx, cancel := context.WithTimeout(context.Background(), l.saveTimeout)
	defer cancel()

	snap := a.Snapshot()
	if err := l.repo.SaveAccount(ctx, &snap); err != nil {
		errutil.LogError(l.logger, "failed to persist account", err, "account_id", snap.InternalID)
	}
}

func notFound(id string) error {
	return oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id).Wrap(ErrNotFound)
}
