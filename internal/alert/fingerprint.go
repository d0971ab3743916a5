package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint computes the deterministic alert identity.
//
// Formula: SHA256(name + sorted "key=value" label pairs)
//
// Purpose: two deliveries of the same alert instance hash identically even
// when the producer omits its own fingerprint, so deduplication and resolve
// matching work across transports.
//
// Label order never affects the result: pairs are sorted by key before
// hashing. An empty name with empty labels still yields a stable (if
// useless) fingerprint; validation upstream rejects such events.
//
// Returns: 64-character lowercase hex string (SHA256 output).
func Fingerprint(name string, labels map[string]string) string {
	pairs := make([]string, 0, len(labels))
	for key, value := range labels {
		pairs = append(pairs, key+"="+value)
	}

	sort.Strings(pairs)

	var b strings.Builder

	b.WriteString(name)

	for _, pair := range pairs {
		b.WriteByte('\n')
		b.WriteString(pair)
	}

	hash := sha256.Sum256([]byte(b.String()))

	return hex.EncodeToString(hash[:])
}
