package core

import (
	"context"
	"errors"
)

var ErrUnsupportedOperation = errors.New("operation not supported by provider")

// Reporter receives the outcome of a flow. Exactly one of Succeeded or
// Failed must be called; later calls are ignored.
type Reporter interface {
	Progress(status string)
	Succeeded(update Update)
	Failed(kind FailureKind, reason string)
}

// Flow is the provider-specific work behind an auth task. It receives a
// copy of the account and must not keep references to it.
type Flow interface {
	Run(ctx context.Context, account AccountData, r Reporter)
}

type FlowFunc func(ctx context.Context, account AccountData, r Reporter)

func (f FlowFunc) Run(ctx context.Context, account AccountData, r Reporter) {
	f(ctx, account, r)
}

// Provider builds flows for one account type. Operations a provider
// does not offer return ErrUnsupportedOperation.
type Provider interface {
	Type() AccountType
	PasswordLogin(password string) (Flow, error)
	InteractiveLogin() (Flow, error)
	Refresh() (Flow, error)
}

// Update is what a successful flow asks the account owner to write.
// Nil fields are left untouched.
type Update struct {
	NativeToken *Token
	LegacyToken *Token
	Profile     *Profile
	Entitlement *Entitlement
	Validity    Validity
}

func (u Update) applyTo(d *AccountData) {
	if u.NativeToken != nil {
		d.NativeToken = u.NativeToken.Clone()
	}
	if u.LegacyToken != nil {
		d.LegacyToken = u.LegacyToken.Clone()
	}
	if u.Profile != nil {
		d.Profile = *u.Profile
		if u.Profile.Skin.Data != nil {
			d.Profile.Skin.Data = append([]byte(nil), u.Profile.Skin.Data...)
		}
	}
	if u.Entitlement != nil {
		d.Entitlement = *u.Entitlement
	}
	d.Validity = u.Validity
}
