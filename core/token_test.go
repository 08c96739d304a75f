package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accountd/core"
)

func TestToken_InvalidIsNeverUsable(t *testing.T) {
	tok := core.Token{Value: "stale-bytes", Validity: core.ValidityNone}

	assert.False(t, tok.Usable())
	assert.Empty(t, tok.AccessValue())

	tok.Validity = core.ValidityAssumed
	assert.Equal(t, "stale-bytes", tok.AccessValue())
}

func TestToken_Expiry(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := core.Token{IssuedAt: issued}
	assert.Equal(t, issued.Add(core.DefaultTokenLifetime), tok.Expiry(core.DefaultTokenLifetime))

	tok.ExpiresAt = issued.Add(time.Hour)
	assert.Equal(t, issued.Add(time.Hour), tok.Expiry(core.DefaultTokenLifetime))
}

func TestToken_Invalidate(t *testing.T) {
	tok := core.Token{
		Value:        "v",
		RefreshValue: "r",
		Validity:     core.ValidityCertain,
		Extra:        map[string]string{core.ExtraUserName: "Steve"},
	}
	tok.Invalidate()

	assert.Empty(t, tok.Value)
	assert.Empty(t, tok.RefreshValue)
	assert.Equal(t, core.ValidityNone, tok.Validity)
	assert.Equal(t, "Steve", tok.ExtraValue(core.ExtraUserName))
}

func TestToken_CloneIsDeep(t *testing.T) {
	tok := core.Token{Extra: map[string]string{"k": "v"}}
	c := tok.Clone()
	c.SetExtra("k", "changed")

	assert.Equal(t, "v", tok.ExtraValue("k"))
}

func TestToken_Restored(t *testing.T) {
	assert.Equal(t, core.ValidityAssumed, core.Token{Validity: core.ValidityCertain}.Restored().Validity)
	assert.Equal(t, core.ValidityNone, core.Token{Validity: core.ValidityNone}.Restored().Validity)
}

func TestValidity_Text(t *testing.T) {
	for _, v := range []core.Validity{core.ValidityNone, core.ValidityAssumed, core.ValidityCertain} {
		text, err := v.MarshalText()
		require.NoError(t, err)

		var back core.Validity
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, v, back)
	}

	_, err := core.ParseValidity("maybe")
	assert.Error(t, err)
}

func TestAccountData_CloneIsDeep(t *testing.T) {
	d := core.AccountData{
		LegacyToken: core.Token{Extra: map[string]string{core.ExtraUserName: "Steve"}},
		Profile:     core.Profile{Skin: core.Skin{Data: []byte{1, 2, 3}}},
	}
	c := d.Clone()
	c.LegacyToken.SetExtra(core.ExtraUserName, "Alex")
	c.Profile.Skin.Data[0] = 9

	assert.Equal(t, "Steve", d.UserName())
	assert.Equal(t, byte(1), d.Profile.Skin.Data[0])
}
