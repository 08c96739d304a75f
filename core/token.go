package core

import (
	"maps"
	"time"
)

// Keys used in Token.Extra.
const (
	ExtraUserName    = "userName"
	ExtraClientToken = "clientToken"
)

// Token is a single credential issued by a provider.
type Token struct {
	Value        string
	RefreshValue string
	Validity     Validity
	IssuedAt     time.Time
	ExpiresAt    time.Time // zero when the provider did not say
	Extra        map[string]string
}

// Usable reports whether the token can be presented to a service.
// A token marked ValidityNone is never usable, whatever Value holds.
func (t Token) Usable() bool {
	return t.Validity != ValidityNone && t.Value != ""
}

// AccessValue returns Value, or "" when the token is not usable.
func (t Token) AccessValue() string {
	if !t.Usable() {
		return ""
	}
	return t.Value
}

// Expiry returns ExpiresAt, or IssuedAt plus defaultLifetime when unset.
func (t Token) Expiry(defaultLifetime time.Duration) time.Time {
	if !t.ExpiresAt.IsZero() {
		return t.ExpiresAt
	}
	return t.IssuedAt.Add(defaultLifetime)
}

// Invalidate drops the credential material and marks the token invalid.
func (t *Token) Invalidate() {
	t.Value = ""
	t.RefreshValue = ""
	t.Validity = ValidityNone
}

func (t Token) Clone() Token {
	c := t
	if t.Extra != nil {
		c.Extra = maps.Clone(t.Extra)
	}
	return c
}

// Restored returns a copy suitable for a freshly loaded record: a
// credential confirmed in an earlier run is only assumed valid now.
func (t Token) Restored() Token {
	c := t.Clone()
	if c.Validity == ValidityCertain {
		c.Validity = ValidityAssumed
	}
	return c
}

// ExtraValue returns the provider side field for key.
func (t Token) ExtraValue(key string) string {
	if t.Extra == nil {
		return ""
	}
	return t.Extra[key]
}

func (t *Token) SetExtra(key, value string) {
	if t.Extra == nil {
		t.Extra = make(map[string]string)
	}
	t.Extra[key] = value
}
