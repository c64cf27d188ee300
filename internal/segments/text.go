package segments

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText applies NFC normalization and collapses runs of whitespace so
// cosmetic edits (trailing spaces, composed vs decomposed accents) do not
// invalidate a generated voice asset.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

// TextFingerprint returns a stable fingerprint of the normalized text.
func TextFingerprint(text string) string {
	sum := sha1.Sum([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:8])
}
