package core

import (
	"crypto/md5" //nolint:gosec // offline ids must match the name-based v3 derivation servers use
	"strings"

	"github.com/google/uuid"
)

// OfflineUUID derives the profile id offline-mode servers compute for username:
// a version 3 name-based UUID over "OfflinePlayer:<username>" with no namespace.
func OfflineUUID(username string) uuid.UUID {
	digest := md5.Sum([]byte("OfflinePlayer:" + username)) //nolint:gosec
	digest[6] = (digest[6] & 0x0f) | 0x30
	digest[8] = (digest[8] & 0x3f) | 0x80
	return uuid.UUID(digest)
}

// OfflineProfileID is OfflineUUID in the dashless form profiles are stored with.
func OfflineProfileID(username string) string {
	return strings.ReplaceAll(OfflineUUID(username).String(), "-", "")
}
