package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// keySchema is folded into every fingerprint; bump it to invalidate old entries.
const keySchema = 1

// Key identifies a cacheable unit of work.
type Key string

func (k Key) String() string { return string(k) }

// Short returns an abbreviated form for logs.
func (k Key) Short() string {
	if len(k) > 12 {
		return string(k[:12])
	}
	return string(k)
}

// Valid reports whether k looks like a hex SHA-256 digest.
func (k Key) Valid() bool {
	if len(k) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(string(k))
	return err == nil
}

type fingerprintInput struct {
	Schema  int    `json:"schema"`
	Stage   string `json:"stage"`
	Params  any    `json:"params"`
	Segment *int   `json:"segment,omitempty"`
}

// Fingerprint derives the key for a stage call that is not tied to a segment.
// params must marshal deterministically; structs and maps both do.
func Fingerprint(stage string, params any) (Key, error) {
	return fingerprint(stage, params, nil)
}

// SegmentFingerprint derives the key for a stage call bound to one segment.
func SegmentFingerprint(stage string, params any, index int) (Key, error) {
	if index < 0 {
		return "", fmt.Errorf("artifact: negative segment index %d", index)
	}
	return fingerprint(stage, params, &index)
}

func fingerprint(stage string, params any, segment *int) (Key, error) {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return "", fmt.Errorf("artifact: stage required")
	}
	payload, err := json.Marshal(fingerprintInput{Schema: keySchema, Stage: stage, Params: params, Segment: segment})
	if err != nil {
		return "", fmt.Errorf("artifact: encode fingerprint: %w", err)
	}
	sum := sha256.Sum256(payload)
	return Key(hex.EncodeToString(sum[:])), nil
}
