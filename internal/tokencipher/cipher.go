// Package tokencipher encrypts refresh tokens for storage inside session
// records.
//
// Envelopes use AES-256-GCM and have the form
//
//	v1:<fingerprint>:<base64(nonce || tag || ciphertext)>
//
// where fingerprint identifies which key of the ring sealed the payload.
// Payloads without the version prefix are treated as the legacy format,
// base64(nonce || tag || ciphertext) with no key tag, and are tried against
// every key in the ring.
package tokencipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/diyartec/calassist/internal/keys"
)

const (
	// Version is the current envelope version tag.
	Version = "v1"

	nonceSize = 12
	tagSize   = 16
)

// ErrDecryption is the sentinel matched by every DecryptionError.
var ErrDecryption = errors.New("tokencipher: decryption failed")

// DecryptionError describes why an envelope could not be opened.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tokencipher: %s: %v", e.Reason, e.Err)
	}
	return "tokencipher: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDecryption.
func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

// Cipher seals and opens refresh tokens with a key ring.
type Cipher struct {
	ring *keys.Ring
}

// New returns a Cipher backed by ring.
func New(ring *keys.Ring) *Cipher {
	return &Cipher{ring: ring}
}

// Encrypt seals plaintext under the current key and returns a v1 envelope.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	gcm, err := newGCM(c.ring.Current)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal returns ciphertext || tag; the envelope stores tag before ciphertext.
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	payload := make([]byte, 0, nonceSize+tagSize+len(ct))
	payload = append(payload, nonce...)
	payload = append(payload, tag...)
	payload = append(payload, ct...)

	return Version + ":" + c.ring.Current.Fingerprint + ":" + base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt opens an envelope produced by Encrypt, or a legacy payload.
// All failures are reported as *DecryptionError.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	if !strings.HasPrefix(envelope, Version+":") {
		return c.decryptLegacy(envelope)
	}

	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", &DecryptionError{Reason: "malformed envelope"}
	}

	key, ok := c.ring.Lookup(parts[1])
	if !ok {
		return "", &DecryptionError{Reason: "unknown key fingerprint"}
	}

	raw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", &DecryptionError{Reason: "invalid base64 payload", Err: err}
	}

	plaintext, err := open(key, raw)
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed", Err: err}
	}
	return plaintext, nil
}

func (c *Cipher) decryptLegacy(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", &DecryptionError{Reason: "invalid legacy payload", Err: err}
	}

	var lastErr error
	for _, key := range c.ring.Candidates() {
		plaintext, err := open(key, raw)
		if err == nil {
			return plaintext, nil
		}
		lastErr = err
	}
	return "", &DecryptionError{Reason: "legacy payload rejected by all keys", Err: lastErr}
}

func open(key keys.Material, raw []byte) (string, error) {
	if len(raw) < nonceSize+tagSize {
		return "", errors.New("payload too short")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	ct := raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func newGCM(key keys.Material) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.Key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
