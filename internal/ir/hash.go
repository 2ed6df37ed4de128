package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainTransition = "knot/transition/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TransitionID computes the content-addressed ID of a transition.
//
// The ID covers the knot, the logical seq, the origin and the three tags.
// Payloads are excluded: they are free-form JSON that may contain floats,
// which canonical JSON rejects.
func TransitionID(t Transition) (string, error) {
	obj := map[string]any{
		"knot_id":    t.KnotID,
		"seq":        t.Seq,
		"origin":     t.Origin,
		"change_tag": t.ChangeTag,
		"from_tag":   t.FromTag,
		"state_tag":  t.StateTag,
		"action_tag": t.ActionTag,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("TransitionID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainTransition, canonical), nil
}

// MustTransitionID is like TransitionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustTransitionID(t Transition) string {
	id, err := TransitionID(t)
	if err != nil {
		panic(err)
	}
	return id
}
