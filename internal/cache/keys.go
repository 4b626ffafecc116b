package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// KeyPrefix namespaces every key written by this service.
const KeyPrefix = "rates"

// QuoteKey returns a key scoped to the digest of the entities a quote was priced against, so
// replicas and restarts share entries only when their configuration is identical.
func QuoteKey(digest, currency string, request any) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return strings.Join([]string{
		KeyPrefix,
		"quote",
		digest,
		strings.ToLower(currency),
		hex.EncodeToString(sum[:]),
	}, ":"), nil
}

// DigestPrefix returns the prefix shared by every quote key of one entity digest.
func DigestPrefix(digest string) string {
	return KeyPrefix + ":quote:" + digest + ":"
}
