package core

import "time"

const (
	// DefaultTokenLifetime applies when a token carries no expiry.
	DefaultTokenLifetime = 24 * time.Hour
	// RefreshWindow is how close to expiry a credential gets refreshed.
	RefreshWindow = 12 * time.Hour
)

// ShouldRefresh decides whether the stored credential of d should be
// proactively refreshed at now.
//
// Accounts backing a running game are never refreshed: a refresh
// invalidates the token the game holds. Accounts known to be dead are
// left alone. Accounts not verified during this run are always
// checked once. Verified accounts are refreshed when less than
// RefreshWindow of their lifetime remains.
func ShouldRefresh(d AccountData, inUse bool, now time.Time) bool {
	if inUse {
		return false
	}
	switch d.Validity {
	case ValidityNone:
		return false
	case ValidityAssumed:
		return true
	}
	expiry := d.LegacyToken.Expiry(DefaultTokenLifetime)
	return expiry.Sub(now) < RefreshWindow
}
