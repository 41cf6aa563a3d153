// Package counter implements deterministic counter allocation for subjects
// identified by a 10-digit national id.
//
// A counter is a 9-character identifier of the form YY + prefix + NNNN where
// YY is the two-digit academic year code, the prefix encodes gender (373 for
// female, 357 for male) and NNNN is a zero-padded sequence scoped to the
// (year, prefix) pair. A subject receives exactly one counter, forever; all
// coordination between concurrent callers is pushed to the relational store.
package counter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
)

// Gender codes accepted by the service.
const (
	GenderFemale = 0
	GenderMale   = 1
)

// Counter prefixes embedded at positions 3-5 (1-indexed).
const (
	PrefixFemale = "373"
	PrefixMale   = "357"
)

// Sequence bounds for a (year, prefix) key. A reservation of SequenceCeiling
// signals exhaustion: the 4-digit tail can only encode 1..9999.
const (
	MaxSequence     = 9999
	SequenceCeiling = 10000
)

// GenderPrefix is the single source of truth mapping gender code to prefix.
var GenderPrefix = map[int]string{
	GenderFemale: PrefixFemale,
	GenderMale:   PrefixMale,
}

// GenderAliases maps upstream spellings of gender to the canonical codes.
// Used by batch ingestion; the service itself only accepts 0 or 1.
var GenderAliases = map[string]int{
	"0":      GenderFemale,
	"1":      GenderMale,
	"f":      GenderFemale,
	"female": GenderFemale,
	"زن":     GenderFemale,
	"ز":      GenderFemale,
	"m":      GenderMale,
	"male":   GenderMale,
	"مرد":    GenderMale,
	"م":      GenderMale,
}

var (
	counterPattern    = regexp.MustCompile(`^\d{2}(357|373)\d{4}$`)
	nationalIDPattern = regexp.MustCompile(`^\d{10}$`)
	yearCodePattern   = regexp.MustCompile(`^\d{2}$`)
)

// ValidCounter reports whether s matches the canonical counter pattern.
func ValidCounter(s string) bool { return counterPattern.MatchString(s) }

// ValidNationalID reports whether s is exactly 10 ASCII digits.
func ValidNationalID(s string) bool { return nationalIDPattern.MatchString(s) }

// ValidYearCode reports whether s is exactly 2 ASCII digits.
func ValidYearCode(s string) bool { return yearCodePattern.MatchString(s) }

// Format assembles a counter from its parts. The result is not guaranteed to
// be valid; callers re-check with ValidCounter before persisting.
func Format(yearCode, prefix string, seq int) string {
	return fmt.Sprintf("%s%s%04d", yearCode, prefix, seq)
}

// EmbeddedPrefix returns the 3-digit prefix embedded in a well-formed counter.
func EmbeddedPrefix(c string) string {
	if len(c) < 5 {
		return ""
	}
	return c[2:5]
}

// EmbeddedSequence returns the sequence number embedded in a well-formed
// counter, or 0 if the tail is not numeric.
func EmbeddedSequence(c string) int {
	if len(c) != 9 {
		return 0
	}
	n, err := strconv.Atoi(c[5:])
	if err != nil {
		return 0
	}
	return n
}

// MaskCounter redacts the middle of a counter for log output, keeping the
// first 3 and last 2 characters visible.
func MaskCounter(c string) string {
	if len(c) < 5 {
		return "****"
	}
	return c[:3] + "****" + c[len(c)-2:]
}

// HashNationalID returns the salted one-way hash of a national id used in
// audit logs. Raw national ids never appear in persisted or streamed logs.
func HashNationalID(salt, nationalID string) string {
	sum := sha256.Sum256([]byte(salt + nationalID))
	return hex.EncodeToString(sum[:])
}
