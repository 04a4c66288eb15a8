package cache

import (
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/unicode/norm"
)

// ErrEmptyNamespace is returned for user ids that normalise to nothing.
var ErrEmptyNamespace = errors.New("empty cache namespace")

// Namespace returns the row key for a user id.
// The id is trimmed and converted to Unicode NFC; case is preserved.
func Namespace(userID string) (string, error) {
	ns := norm.NFC.String(strings.TrimSpace(userID))
	if ns == "" {
		return "", errors.WithHint(ErrEmptyNamespace, "log in before reading or writing the cache")
	}
	return ns, nil
}
