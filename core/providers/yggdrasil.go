package providers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"accountd/core"
)

const (
	DefaultMojangAuthURL = "https://authserver.mojang.com"
	DefaultElybyAuthURL  = "https://authserver.ely.by/auth"
)

// YggdrasilConfig points a Yggdrasil provider at its auth server.
type YggdrasilConfig struct {
	AuthURL string `koanf:"auth_url"`
}

// YggdrasilProvider logs in against a Yggdrasil style auth server with a
// user name and password. Mojang and Ely.by share this protocol.
type YggdrasilProvider struct {
	accountType core.AccountType
	config      YggdrasilConfig
	http        *httpClient
	logger      *slog.Logger
	now         func() time.Time
}

func newYggdrasilProvider(t core.AccountType, cfg YggdrasilConfig, o *options) *YggdrasilProvider {
	logger := o.logger.With("provider", string(t))
	return &YggdrasilProvider{
		accountType: t,
		config:      cfg,
		http:        newHTTPClient(o.httpClient, o.retries, logger),
		logger:      logger,
		now:         o.now,
	}
}

func NewMojangProvider(cfg YggdrasilConfig, opts ...Option) *YggdrasilProvider {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultMojangAuthURL
	}
	return newYggdrasilProvider(core.AccountTypeMojang, cfg, newOptions(opts))
}

func NewElybyProvider(cfg YggdrasilConfig, opts ...Option) *YggdrasilProvider {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultElybyAuthURL
	}
	return newYggdrasilProvider(core.AccountTypeElyby, cfg, newOptions(opts))
}

func (p *YggdrasilProvider) Type() core.AccountType { return p.accountType }

func (p *YggdrasilProvider) InteractiveLogin() (core.Flow, error) {
	return nil, core.ErrUnsupportedOperation
}

func (p *YggdrasilProvider) PasswordLogin(password string) (core.Flow, error) {
	return core.FlowFunc(func(ctx context.Context, account core.AccountData, r core.Reporter) {
		username := account.UserName()
		if username == "" || password == "" {
			r.Failed(core.FailureHard, "user name and password are required")
			return
		}

		r.Progress("Authenticating with " + string(p.accountType))
		req := yggdrasilAuthRequest{
			Agent:       yggdrasilAgent{Name: "Minecraft", Version: 1},
			Username:    username,
			Password:    password,
			ClientToken: clientTokenOf(account),
			RequestUser: true,
		}
		var resp yggdrasilAuthResponse
		if err := p.http.postJSON(ctx, p.config.AuthURL+"/authenticate", req, &resp); err != nil {
			p.fail(r, "authenticate", err)
			return
		}
		r.Succeeded(p.update(account, resp))
	}), nil
}

func (p *YggdrasilProvider) Refresh() (core.Flow, error) {
	return core.FlowFunc(func(ctx context.Context, account core.AccountData, r core.Reporter) {
		if account.LegacyToken.Value == "" {
			p.fail(r, "refresh", errNoRefreshCredential)
			return
		}

		r.Progress("Refreshing " + string(p.accountType) + " session")
		req := yggdrasilRefreshRequest{
			AccessToken: account.LegacyToken.Value,
			ClientToken: clientTokenOf(account),
			RequestUser: true,
		}
		var resp yggdrasilAuthResponse
		if err := p.http.postJSON(ctx, p.config.AuthURL+"/refresh", req, &resp); err != nil {
			p.fail(r, "refresh", err)
			return
		}
		r.Succeeded(p.update(account, resp))
	}), nil
}

func (p *YggdrasilProvider) fail(r core.Reporter, step string, err error) {
	kind, reason := classifyYggdrasil(err)
	p.logger.Debug("yggdrasil request failed", "step", step, "failure", kind.String(), "error", err)
	r.Failed(kind, reason)
}

func (p *YggdrasilProvider) update(account core.AccountData, resp yggdrasilAuthResponse) core.Update {
	now := p.now().UTC()

	token := account.LegacyToken.Clone()
	token.Value = resp.AccessToken
	token.RefreshValue = ""
	token.Validity = core.ValidityCertain
	token.IssuedAt = now
	token.ExpiresAt = time.Time{}
	if exp, ok := core.TokenExpiry(resp.AccessToken); ok {
		token.ExpiresAt = exp.UTC()
	}
	if resp.ClientToken != "" {
		token.SetExtra(core.ExtraClientToken, resp.ClientToken)
	}
	if resp.User != nil && resp.User.Username != "" && token.ExtraValue(core.ExtraUserName) == "" {
		token.SetExtra(core.ExtraUserName, resp.User.Username)
	}

	profile := core.Profile{Validity: core.ValidityCertain}
	if resp.SelectedProfile != nil {
		profile.ID = resp.SelectedProfile.ID
		profile.Name = resp.SelectedProfile.Name
		profile.Skin = account.Profile.Skin
	}

	entitlement := core.Entitlement{OwnsGame: true, CanPlay: true}
	if p.accountType == core.AccountTypeMojang {
		owns := len(resp.AvailableProfiles) > 0 || resp.SelectedProfile != nil
		entitlement = core.Entitlement{OwnsGame: owns, CanPlay: owns}
	}

	return core.Update{
		LegacyToken: &token,
		Profile:     &profile,
		Entitlement: &entitlement,
		Validity:    core.ValidityCertain,
	}
}

func clientTokenOf(account core.AccountData) string {
	if ct := account.ClientToken(); ct != "" {
		return ct
	}
	return core.NewClientToken()
}

type yggdrasilAgent struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

type yggdrasilAuthRequest struct {
	Agent       yggdrasilAgent `json:"agent"`
	Username    string         `json:"username"`
	Password    string         `json:"password"`
	ClientToken string         `json:"clientToken"`
	RequestUser bool           `json:"requestUser"`
}

type yggdrasilRefreshRequest struct {
	AccessToken string `json:"accessToken"`
	ClientToken string `json:"clientToken"`
	RequestUser bool   `json:"requestUser"`
}

type yggdrasilProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type yggdrasilAuthResponse struct {
	AccessToken       string             `json:"accessToken"`
	ClientToken       string             `json:"clientToken"`
	AvailableProfiles []yggdrasilProfile `json:"availableProfiles"`
	SelectedProfile   *yggdrasilProfile  `json:"selectedProfile"`
	User              *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

type yggdrasilError struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"errorMessage"`
	Cause        string `json:"cause"`
}

func classifyYggdrasil(err error) (core.FailureKind, string) {
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Retryable() {
		return classify(err)
	}

	var body yggdrasilError
	if json.Unmarshal(serr.Body, &body) != nil || body.Error == "" {
		return classify(err)
	}
	reason := body.ErrorMessage
	if reason == "" {
		reason = body.Error
	}

	if body.Error == "ForbiddenOperationException" {
		msg := strings.ToLower(body.ErrorMessage + " " + body.Cause)
		if strings.Contains(msg, "migrated") || strings.Contains(msg, "migration") {
			return core.FailureMustMigrate, reason
		}
		return core.FailureHard, reason
	}
	if serr.Status == 410 {
		return core.FailureGone, reason
	}
	kind, _ := classify(err)
	return kind, reason
}
