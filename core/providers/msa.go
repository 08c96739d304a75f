package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"accountd/core"
)

const (
	DefaultMSAAuthority    = "https://login.microsoftonline.com/consumers/oauth2/v2.0"
	DefaultMSAScope        = "XboxLive.signin offline_access"
	DefaultXboxUserAuthURL = "https://user.auth.xboxlive.com/user/authenticate"
	DefaultXSTSURL         = "https://xsts.auth.xboxlive.com/xsts/authorize"
	DefaultServicesURL     = "https://api.minecraftservices.com"

	// XSTS error for a Microsoft account without an Xbox profile.
	xErrNoXboxAccount = 2148916233
	// XSTS error for a child account outside a family.
	xErrChildAccount = 2148916238

	defaultPollInterval = 5 * time.Second
	slowDownStep        = 5 * time.Second
)

// MSAConfig configures the Microsoft account provider. An empty ClientID
// leaves the provider unregistered.
type MSAConfig struct {
	ClientID        string `koanf:"client_id"`
	Authority       string `koanf:"authority"`
	Scope           string `koanf:"scope"`
	XboxUserAuthURL string `koanf:"xbox_user_auth_url"`
	XSTSURL         string `koanf:"xsts_url"`
	ServicesURL     string `koanf:"services_url"`
	// PollInterval overrides the device code polling interval the
	// authority asks for. Zero keeps the authority's value.
	PollInterval time.Duration `koanf:"poll_interval"`
}

func (c *MSAConfig) setDefaults() {
	if c.Authority == "" {
		c.Authority = DefaultMSAAuthority
	}
	if c.Scope == "" {
		c.Scope = DefaultMSAScope
	}
	if c.XboxUserAuthURL == "" {
		c.XboxUserAuthURL = DefaultXboxUserAuthURL
	}
	if c.XSTSURL == "" {
		c.XSTSURL = DefaultXSTSURL
	}
	if c.ServicesURL == "" {
		c.ServicesURL = DefaultServicesURL
	}
}

// DeviceCode is shown to the user during an interactive login.
type DeviceCode struct {
	UserCode        string
	VerificationURI string
	Message         string
	ExpiresAt       time.Time
}

// MSAProvider logs in with a Microsoft account and exchanges the Microsoft
// token for a game token through Xbox Live.
type MSAProvider struct {
	config       MSAConfig
	http         *httpClient
	logger       *slog.Logger
	now          func() time.Time
	onDeviceCode func(DeviceCode)
}

func NewMSAProvider(cfg MSAConfig, opts ...Option) *MSAProvider {
	cfg.setDefaults()
	o := newOptions(opts)
	logger := o.logger.With("provider", string(core.AccountTypeMSA))
	return &MSAProvider{
		config:       cfg,
		http:         newHTTPClient(o.httpClient, o.retries, logger),
		logger:       logger,
		now:          o.now,
		onDeviceCode: o.onDeviceCode,
	}
}

func (p *MSAProvider) Type() core.AccountType { return core.AccountTypeMSA }

func (p *MSAProvider) PasswordLogin(string) (core.Flow, error) {
	return nil, core.ErrUnsupportedOperation
}

// InteractiveLogin runs the device code grant. The user code is reported
// as task progress and handed to the device code handler.
func (p *MSAProvider) InteractiveLogin() (core.Flow, error) {
	return core.FlowFunc(func(ctx context.Context, account core.AccountData, r core.Reporter) {
		r.Progress("Requesting a device code from Microsoft")
		var dc deviceCodeResponse
		err := p.http.postForm(ctx, p.config.Authority+"/devicecode", url.Values{
			"client_id": {p.config.ClientID},
			"scope":     {p.config.Scope},
		}, &dc)
		if err != nil {
			p.fail(r, "devicecode", err)
			return
		}

		code := DeviceCode{
			UserCode:        dc.UserCode,
			VerificationURI: dc.VerificationURI,
			Message:         dc.Message,
			ExpiresAt:       p.now().Add(time.Duration(dc.ExpiresIn) * time.Second),
		}
		if code.Message == "" {
			code.Message = fmt.Sprintf("To sign in, open %s and enter the code %s", dc.VerificationURI, dc.UserCode)
		}
		r.Progress(code.Message)
		if p.onDeviceCode != nil {
			p.onDeviceCode(code)
		}

		ms, err := p.pollDeviceCode(ctx, dc, code.ExpiresAt)
		if err != nil {
			p.fail(r, "device token", err)
			return
		}
		p.finishLogin(ctx, account, ms, r)
	}), nil
}

// Refresh redeems the stored Microsoft refresh token.
func (p *MSAProvider) Refresh() (core.Flow, error) {
	return core.FlowFunc(func(ctx context.Context, account core.AccountData, r core.Reporter) {
		refresh := account.NativeToken.RefreshValue
		if refresh == "" {
			p.fail(r, "refresh", errNoRefreshCredential)
			return
		}

		r.Progress("Refreshing Microsoft token")
		var ms msTokenResponse
		err := p.http.postForm(ctx, p.config.Authority+"/token", url.Values{
			"client_id":     {p.config.ClientID},
			"grant_type":    {"refresh_token"},
			"refresh_token": {refresh},
			"scope":         {p.config.Scope},
		}, &ms)
		if err != nil {
			p.fail(r, "refresh", err)
			return
		}
		if ms.RefreshToken == "" {
			ms.RefreshToken = refresh
		}
		p.finishLogin(ctx, account, ms, r)
	}), nil
}

func (p *MSAProvider) pollDeviceCode(ctx context.Context, dc deviceCodeResponse, expiresAt time.Time) (msTokenResponse, error) {
	interval := time.Duration(dc.Interval) * time.Second
	if p.config.PollInterval > 0 {
		interval = p.config.PollInterval
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}

	for {
		select {
		case <-ctx.Done():
			return msTokenResponse{}, ctx.Err()
		case <-time.After(interval):
		}

		var ms msTokenResponse
		err := p.http.postForm(ctx, p.config.Authority+"/token", url.Values{
			"client_id":   {p.config.ClientID},
			"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
			"device_code": {dc.DeviceCode},
		}, &ms)
		if err == nil {
			return ms, nil
		}

		switch oauthErrorCode(err) {
		case "authorization_pending":
		case "slow_down":
			interval += slowDownStep
		default:
			return msTokenResponse{}, err
		}
		if !expiresAt.IsZero() && p.now().After(expiresAt) {
			return msTokenResponse{}, &StatusError{Status: http.StatusBadRequest, URL: p.config.Authority + "/token", Body: []byte(`{"error":"expired_token"}`)}
		}
	}
}

// finishLogin turns a Microsoft token into a game session.
func (p *MSAProvider) finishLogin(ctx context.Context, account core.AccountData, ms msTokenResponse, r core.Reporter) {
	now := p.now().UTC()
	native := account.NativeToken.Clone()
	native.Value = ms.AccessToken
	native.RefreshValue = ms.RefreshToken
	native.Validity = core.ValidityCertain
	native.IssuedAt = now
	native.ExpiresAt = time.Time{}
	if ms.ExpiresIn > 0 {
		native.ExpiresAt = now.Add(time.Duration(ms.ExpiresIn) * time.Second)
	}

	r.Progress("Logging in to Xbox Live")
	var xbl xboxTokenResponse
	err := p.http.postJSON(ctx, p.config.XboxUserAuthURL, xboxRequest{
		Properties: map[string]any{
			"AuthMethod": "RPS",
			"SiteName":   "user.auth.xboxlive.com",
			"RpsTicket":  "d=" + ms.AccessToken,
		},
		RelyingParty: "http://auth.xboxlive.com",
		TokenType:    "JWT",
	}, &xbl)
	if err != nil {
		p.fail(r, "xbox user auth", err)
		return
	}

	r.Progress("Authorizing with Xbox Live")
	var xsts xboxTokenResponse
	err = p.http.postJSON(ctx, p.config.XSTSURL, xboxRequest{
		Properties: map[string]any{
			"SandboxId":  "RETAIL",
			"UserTokens": []string{xbl.Token},
		},
		RelyingParty: "rp://api.minecraftservices.com/",
		TokenType:    "JWT",
	}, &xsts)
	if err != nil {
		p.fail(r, "xsts", err)
		return
	}
	uhs := xsts.userHash()
	if uhs == "" {
		uhs = xbl.userHash()
	}
	if uhs == "" {
		p.fail(r, "xsts", fmt.Errorf("%w: no user hash in XSTS response", errMalformedResponse))
		return
	}

	r.Progress("Logging in to game services")
	var game gameLoginResponse
	err = p.http.postJSON(ctx, p.config.ServicesURL+"/authentication/login_with_xbox", map[string]string{
		"identityToken": "XBL3.0 x=" + uhs + ";" + xsts.Token,
	}, &game)
	if err != nil {
		p.fail(r, "game login", err)
		return
	}

	legacy := account.LegacyToken.Clone()
	legacy.Value = game.AccessToken
	legacy.RefreshValue = ""
	legacy.Validity = core.ValidityCertain
	legacy.IssuedAt = now
	legacy.ExpiresAt = time.Time{}
	if exp, ok := core.TokenExpiry(game.AccessToken); ok {
		legacy.ExpiresAt = exp.UTC()
	} else if game.ExpiresIn > 0 {
		legacy.ExpiresAt = now.Add(time.Duration(game.ExpiresIn) * time.Second)
	}

	r.Progress("Checking game ownership")
	var store entitlementsResponse
	if err := p.http.getJSON(ctx, p.config.ServicesURL+"/entitlements/mcstore", game.AccessToken, &store); err != nil {
		p.fail(r, "entitlements", err)
		return
	}
	owns := store.ownsGame()
	entitlement := core.Entitlement{OwnsGame: owns, CanPlay: owns}

	r.Progress("Fetching profile")
	profile, err := p.fetchProfile(ctx, game.AccessToken)
	if err != nil {
		p.fail(r, "profile", err)
		return
	}
	if profile.Name != "" {
		legacy.SetExtra(core.ExtraUserName, profile.Name)
	}

	r.Succeeded(core.Update{
		NativeToken: &native,
		LegacyToken: &legacy,
		Profile:     &profile,
		Entitlement: &entitlement,
		Validity:    core.ValidityCertain,
	})
}

// fetchProfile returns an empty profile when the account has not set one
// up yet. A skin that cannot be downloaded is left without data.
func (p *MSAProvider) fetchProfile(ctx context.Context, accessToken string) (core.Profile, error) {
	var resp profileResponse
	err := p.http.getJSON(ctx, p.config.ServicesURL+"/minecraft/profile", accessToken, &resp)
	var serr *StatusError
	if errors.As(err, &serr) && serr.Status == http.StatusNotFound {
		return core.Profile{Validity: core.ValidityCertain}, nil
	}
	if err != nil {
		return core.Profile{}, err
	}

	profile := core.Profile{ID: resp.ID, Name: resp.Name, Validity: core.ValidityCertain}
	for _, s := range resp.Skins {
		if s.State != "ACTIVE" {
			continue
		}
		profile.Skin = core.Skin{ID: s.ID, URL: s.URL, Variant: s.Variant}
		break
	}
	if profile.Skin.URL != "" {
		data, err := p.http.getBytes(ctx, profile.Skin.URL)
		if err != nil {
			p.logger.Warn("failed to download skin", "profile_id", profile.ID, "error", err)
		} else {
			profile.Skin.Data = data
		}
	}
	return profile, nil
}

func (p *MSAProvider) fail(r core.Reporter, step string, err error) {
	kind, reason := classifyMSA(err)
	p.logger.Debug("msa request failed", "step", step, "failure", kind.String(), "error", err)
	r.Failed(kind, step+": "+reason)
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	Message         string `json:"message"`
}

type msTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type xboxRequest struct {
	Properties   map[string]any `json:"Properties"`
	RelyingParty string         `json:"RelyingParty"`
	TokenType    string         `json:"TokenType"`
}

type xboxTokenResponse struct {
	Token         string `json:"Token"`
	DisplayClaims struct {
		XUI []struct {
			UHS string `json:"uhs"`
		} `json:"xui"`
	} `json:"DisplayClaims"`
}

func (x xboxTokenResponse) userHash() string {
	if len(x.DisplayClaims.XUI) == 0 {
		return ""
	}
	return x.DisplayClaims.XUI[0].UHS
}

type gameLoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type entitlementsResponse struct {
	Items []struct {
		Name string `json:"name"`
	} `json:"items"`
}

func (e entitlementsResponse) ownsGame() bool {
	for _, item := range e.Items {
		if item.Name == "product_minecraft" || item.Name == "game_minecraft" {
			return true
		}
	}
	return false
}

type profileResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Skins []struct {
		ID      string `json:"id"`
		State   string `json:"state"`
		URL     string `json:"url"`
		Variant string `json:"variant"`
	} `json:"skins"`
}

func oauthErrorCode(err error) string {
	var serr *StatusError
	if !errors.As(err, &serr) {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(serr.Body, &body) != nil {
		return ""
	}
	return body.Error
}

func classifyMSA(err error) (core.FailureKind, string) {
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Retryable() {
		return classify(err)
	}

	var xerr struct {
		XErr    int64  `json:"XErr"`
		Message string `json:"Message"`
	}
	if json.Unmarshal(serr.Body, &xerr) == nil && xerr.XErr != 0 {
		switch xerr.XErr {
		case xErrNoXboxAccount:
			return core.FailureGone, "the Microsoft account has no Xbox profile"
		case xErrChildAccount:
			return core.FailureHard, "the account is a child account and must be added to a family"
		}
		return core.FailureHard, fmt.Sprintf("Xbox Live error %d", xerr.XErr)
	}

	switch code := oauthErrorCode(err); code {
	case "invalid_grant", "expired_token", "authorization_declined", "bad_verification_code":
		return core.FailureHard, code
	}
	return classify(err)
}
