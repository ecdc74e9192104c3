// Package keys derives the symmetric key material used to protect refresh
// tokens at rest.
//
// A Ring holds the current key and at most one previous key so that tokens
// written before a secret rotation remain readable.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// FingerprintLength is the number of hex characters taken from the key
// digest to tag envelopes.
const FingerprintLength = 8

// ErrEmptySecret is returned when a key is derived from an empty string.
var ErrEmptySecret = errors.New("keys: secret must not be empty")

// Material is a derived 256-bit key plus its short fingerprint.
type Material struct {
	Key         [32]byte
	Fingerprint string
}

// Derive returns the key material for secret. The same secret always yields
// the same key and fingerprint.
func Derive(secret string) (Material, error) {
	if secret == "" {
		return Material{}, ErrEmptySecret
	}
	sum := sha256.Sum256([]byte(secret))
	return Material{
		Key:         sum,
		Fingerprint: hex.EncodeToString(sum[:])[:FingerprintLength],
	}, nil
}

// Ring is the set of keys accepted for decryption. Current is always used
// for encryption.
type Ring struct {
	Current  Material
	Previous *Material
}

// NewRing derives a ring from the current secret and an optional previous
// secret. An empty previous secret means no rotation is in progress.
func NewRing(current, previous string) (*Ring, error) {
	cur, err := Derive(current)
	if err != nil {
		return nil, err
	}
	ring := &Ring{Current: cur}
	if previous != "" {
		prev, err := Derive(previous)
		if err != nil {
			return nil, err
		}
		ring.Previous = &prev
	}
	return ring, nil
}

// Lookup returns the key whose fingerprint matches fp.
func (r *Ring) Lookup(fp string) (Material, bool) {
	if fp == r.Current.Fingerprint {
		return r.Current, true
	}
	if r.Previous != nil && fp == r.Previous.Fingerprint {
		return *r.Previous, true
	}
	return Material{}, false
}

// Candidates returns the keys in decryption order: current first, then previous.
func (r *Ring) Candidates() []Material {
	if r.Previous == nil {
		return []Material{r.Current}
	}
	return []Material{r.Current, *r.Previous}
}
