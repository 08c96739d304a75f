package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountType identifies the provider an account authenticates against.
type AccountType string

const (
	AccountTypeMSA    AccountType = "msa"
	AccountTypeMojang AccountType = "mojang"
	AccountTypeLocal  AccountType = "local"
	AccountTypeElyby  AccountType = "elyby"
)

func ParseAccountType(s string) (AccountType, error) {
	switch t := AccountType(strings.ToLower(strings.TrimSpace(s))); t {
	case AccountTypeMSA, AccountTypeMojang, AccountTypeLocal, AccountTypeElyby:
		return t, nil
	default:
		return "", fmt.Errorf("unknown account type %q", s)
	}
}

// Native reports whether the account uses the provider-native token slot.
func (t AccountType) Native() bool {
	return t == AccountTypeMSA
}

// Session user types handed to the game.
const (
	UserTypeMSA    = "msa"
	UserTypeLegacy = "legacy"
)

type Skin struct {
	ID      string
	URL     string
	Variant string
	Data    []byte
}

type Profile struct {
	ID       string // uuid without dashes
	Name     string
	Skin     Skin
	Validity Validity
}

type Entitlement struct {
	OwnsGame bool
	CanPlay  bool
}

// AccountData is the persisted part of an account record.
type AccountData struct {
	InternalID  string
	Type        AccountType
	NativeToken Token // provider OAuth token, MSA only
	LegacyToken Token // game access token
	Profile     Profile
	Entitlement Entitlement
	Validity    Validity
}

func newInternalID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewClientToken returns a random client token in the form Yggdrasil servers expect.
func NewClientToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (d AccountData) UserName() string {
	return d.LegacyToken.ExtraValue(ExtraUserName)
}

func (d AccountData) AccessToken() string {
	return d.LegacyToken.AccessValue()
}

func (d AccountData) ClientToken() string {
	return d.LegacyToken.ExtraValue(ExtraClientToken)
}

func (d AccountData) ProfileName() string {
	return d.Profile.Name
}

func (d AccountData) ProfileID() string {
	return d.Profile.ID
}

func (d AccountData) HasProfile() bool {
	return d.Profile.ID != ""
}

func (d AccountData) UserType() string {
	if d.Type.Native() {
		return UserTypeMSA
	}
	return UserTypeLegacy
}

// Clone returns a deep copy.
func (d AccountData) Clone() AccountData {
	c := d
	c.NativeToken = d.NativeToken.Clone()
	c.LegacyToken = d.LegacyToken.Clone()
	if d.Profile.Skin.Data != nil {
		c.Profile.Skin.Data = append([]byte(nil), d.Profile.Skin.Data...)
	}
	return c
}

// Restored returns a copy with every Certain marker downgraded to Assumed.
func (d AccountData) Restored() AccountData {
	c := d.Clone()
	c.NativeToken = d.NativeToken.Restored()
	c.LegacyToken = d.LegacyToken.Restored()
	if c.Profile.Validity == ValidityCertain {
		c.Profile.Validity = ValidityAssumed
	}
	if c.Validity == ValidityCertain {
		c.Validity = ValidityAssumed
	}
	return c
}
