// Package privacy scrubs sensitive information from strings before they
// leave the process. Database paths routinely embed usernames, so whole
// paths are replaced with stable hashes rather than trimmed.
package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var (
	// credentialsPattern matches user:password@ segments in connection
	// strings and DSNs.
	credentialsPattern = regexp.MustCompile(`://[^:@/\s]+:[^@/\s]+@`)

	// pathPattern matches absolute Unix and Windows paths of at least two
	// segments, the shape legacy store locations take.
	pathPattern = regexp.MustCompile(`(?:[A-Za-z]:)?(?:[/\\][\w .~-]+){2,}`)
)

// ScrubMessage anonymizes credentials and filesystem paths in a telemetry
// message. Each distinct path maps to a stable token so repeated reports
// about the same file still group together.
func ScrubMessage(message string) string {
	scrubbed := credentialsPattern.ReplaceAllString(message, "://[REDACTED]@")
	return pathPattern.ReplaceAllStringFunc(scrubbed, AnonymizePath)
}

// AnonymizePath replaces a filesystem path with a deterministic token,
// keeping the extension for debugging value.
func AnonymizePath(path string) string {
	hash := sha256.Sum256([]byte(path))
	token := fmt.Sprintf("path-%x", hash[:6])
	if dot := strings.LastIndex(path, "."); dot > 0 && dot > strings.LastIndexAny(path, `/\`) {
		token += path[dot:]
	}
	return token
}

// GenerateInstallID returns a new anonymous installation identifier in the
// form XXXX-XXXX-XXXX.
func GenerateInstallID() (string, error) {
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	id := hex.EncodeToString(bytes)
	return strings.ToUpper(fmt.Sprintf("%s-%s-%s", id[0:4], id[4:8], id[8:12])), nil
}

// IsValidInstallID checks the XXXX-XXXX-XXXX shape.
func IsValidInstallID(id string) bool {
	if len(id) != 14 {
		return false
	}
	for i, r := range id {
		if i == 4 || i == 9 {
			if r != '-' {
				return false
			}
			continue
		}
		isDigit := r >= '0' && r <= '9'
		isHexUpper := r >= 'A' && r <= 'F'
		if !isDigit && !isHexUpper {
			return false
		}
	}
	return true
}
