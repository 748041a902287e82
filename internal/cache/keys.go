package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyPrefix namespaces verdict entries in a shared store.
const KeyPrefix = "security"

// ShortFingerprintLen is the number of hex characters kept from the prompt
// digest. 16 hex chars = 64 bits; a collision silently reuses a verdict.
const ShortFingerprintLen = 16

// KeyFunc derives a cache key from an agent and a prompt.
type KeyFunc func(agentID, prompt string) string

// Fingerprint returns the first n hex characters of sha256(prompt).
// n <= 0 or n > 64 returns the full digest.
func Fingerprint(prompt string, n int) string {
	sum := sha256.Sum256([]byte(prompt))
	full := hex.EncodeToString(sum[:])
	if n <= 0 || n > len(full) {
		return full
	}
	return full[:n]
}

// Key returns security:{agentID}:{16 hex chars of sha256(prompt)}.
func Key(agentID, prompt string) string {
	return KeyPrefix + ":" + agentID + ":" + Fingerprint(prompt, ShortFingerprintLen)
}

// FullKey is Key with the full 256-bit digest as fingerprint.
func FullKey(agentID, prompt string) string {
	return KeyPrefix + ":" + agentID + ":" + Fingerprint(prompt, 0)
}
