// Package modelref parses and validates the metadata identifying the model
// that proposed a rebalance: its version tag and the 32-byte digest of its
// weights.
package modelref

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MaxVersionLen bounds the stored version tag.
const MaxVersionLen = 20

// semverRegex matches: v{major}.{minor}.{patch}[-{prerelease}]
// Example: v1.0.0, v2.3.1-rc1
var semverRegex = regexp.MustCompile(
	`^v(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)(?:-([0-9A-Za-z.]+))?$`,
)

var hashRegex = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

var (
	ErrInvalidVersion = errors.New("modelref: invalid model version")
	ErrInvalidHash    = errors.New("modelref: invalid model hash")
)

// Version is a model version tag. Tags are free text; when a tag has the
// v{major}.{minor}.{patch} shape its components are filled in and Semantic
// is set.
type Version struct {
	Tag        string `json:"tag"`
	Semantic   bool   `json:"semantic"`
	Major      int    `json:"major,omitempty"`
	Minor      int    `json:"minor,omitempty"`
	Patch      int    `json:"patch,omitempty"`
	Prerelease string `json:"prerelease,omitempty"`
}

// ParseVersion accepts any tag of at most MaxVersionLen bytes. The semantic
// components are extracted when present and never cause a rejection.
func ParseVersion(tag string) (*Version, error) {
	if len(tag) > MaxVersionLen {
		return nil, fmt.Errorf("%w: %q longer than %d characters", ErrInvalidVersion, tag, MaxVersionLen)
	}
	v := &Version{Tag: tag}

	matches := semverRegex.FindStringSubmatch(tag)
	if matches == nil {
		return v, nil
	}
	major, errMajor := strconv.Atoi(matches[1])
	minor, errMinor := strconv.Atoi(matches[2])
	patch, errPatch := strconv.Atoi(matches[3])
	if errMajor != nil || errMinor != nil || errPatch != nil {
		return v, nil
	}
	v.Semantic = true
	v.Major, v.Minor, v.Patch = major, minor, patch
	v.Prerelease = matches[4]
	return v, nil
}

// ParseHash decodes a 64-character hex digest, with or without a 0x prefix.
func ParseHash(s string) (common.Hash, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if !hashRegex.MatchString(raw) {
		return common.Hash{}, fmt.Errorf("%w: %q (expected 32 bytes of hex)", ErrInvalidHash, s)
	}
	return common.HexToHash(raw), nil
}
