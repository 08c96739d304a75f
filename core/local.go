package core

import (
	"context"
	"time"
)

// LocalProvider serves offline accounts. Nothing is ever sent over the network.
type LocalProvider struct {
	Now func() time.Time
}

func (LocalProvider) Type() AccountType { return AccountTypeLocal }

func (LocalProvider) PasswordLogin(string) (Flow, error) {
	return nil, ErrUnsupportedOperation
}

func (LocalProvider) InteractiveLogin() (Flow, error) {
	return nil, ErrUnsupportedOperation
}

func (p LocalProvider) Refresh() (Flow, error) {
	return localFlow(p.Now), nil
}

// localFlow confirms an offline identity from the stored user name.
func localFlow(now func() time.Time) Flow {
	if now == nil {
		now = time.Now
	}
	return FlowFunc(func(_ context.Context, account AccountData, r Reporter) {
		userName := account.UserName()
		if userName == "" {
			r.Failed(FailureHard, "local account has no user name")
			return
		}

		token := account.LegacyToken.Clone()
		token.Validity = ValidityCertain
		token.IssuedAt = now().UTC()
		if token.ExtraValue(ExtraClientToken) == "" {
			token.SetExtra(ExtraClientToken, NewClientToken())
		}

		profile := account.Profile
		if profile.ID == "" {
			profile.ID = OfflineProfileID(userName)
		}
		profile.Name = userName
		profile.Validity = ValidityCertain

		r.Succeeded(Update{
			LegacyToken: &token,
			Profile:     &profile,
			Entitlement: &Entitlement{OwnsGame: true, CanPlay: true},
			Validity:    ValidityCertain,
		})
	})
}
