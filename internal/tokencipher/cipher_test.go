package tokencipher

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/diyartec/calassist/internal/keys"
)

const (
	currentSecret  = "current-refresh-token-secret-0123456789"
	previousSecret = "previous-refresh-token-secret-987654321"
)

func newCipher(t *testing.T, current, previous string) *Cipher {
	t.Helper()
	ring, err := keys.NewRing(current, previous)
	if err != nil {
		t.Fatalf("NewRing() error = %v", err)
	}
	return New(ring)
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newCipher(t, currentSecret, "")

	tests := []struct {
		name      string
		plaintext string
	}{
		{"refresh token", "1//0gExampleRefreshToken-abc_def"},
		{"empty string", ""},
		{"special chars", "token!@#$%^&*()_+-={}[]|:;<>?,./"},
		{"unicode", "token_🔐_secure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := c.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if !strings.HasPrefix(env, Version+":") {
				t.Errorf("envelope %q missing version prefix", env)
			}
			if tt.plaintext != "" && strings.Contains(env, tt.plaintext) {
				t.Error("envelope contains plaintext")
			}
			got, err := c.Decrypt(env)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("Decrypt() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestCipher_FreshNonce(t *testing.T) {
	c := newCipher(t, currentSecret, "")
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	if a == b {
		t.Error("two encryptions of the same plaintext are identical")
	}
}

func TestCipher_RotationCompatibility(t *testing.T) {
	old := newCipher(t, previousSecret, "")
	env, err := old.Encrypt("rotated-token")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	rotated := newCipher(t, currentSecret, previousSecret)
	got, err := rotated.Decrypt(env)
	if err != nil {
		t.Fatalf("Decrypt() after rotation error = %v", err)
	}
	if got != "rotated-token" {
		t.Errorf("Decrypt() = %q, want rotated-token", got)
	}

	withoutPrevious := newCipher(t, currentSecret, "")
	if _, err := withoutPrevious.Decrypt(env); !errors.Is(err, ErrDecryption) {
		t.Errorf("Decrypt() with dropped previous key error = %v, want ErrDecryption", err)
	}
}

func TestCipher_TamperDetection(t *testing.T) {
	c := newCipher(t, currentSecret, "")
	env, err := c.Encrypt("tamper-me-please")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	parts := strings.Split(env, ":")
	raw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	// Every byte after the nonce belongs to the tag or the ciphertext.
	for i := nonceSize; i < len(raw); i++ {
		mutated := append([]byte(nil), raw...)
		mutated[i] ^= 0x01
		tampered := parts[0] + ":" + parts[1] + ":" + base64.StdEncoding.EncodeToString(mutated)

		got, err := c.Decrypt(tampered)
		if !errors.Is(err, ErrDecryption) {
			t.Fatalf("byte %d: Decrypt() = %q, %v; want ErrDecryption", i, got, err)
		}
	}
}

func TestCipher_UnknownFingerprint(t *testing.T) {
	other := newCipher(t, "a-completely-unrelated-secret-value-xyz", "")
	env, _ := other.Encrypt("x")

	c := newCipher(t, currentSecret, previousSecret)
	_, err := c.Decrypt(env)
	var de *DecryptionError
	if !errors.As(err, &de) {
		t.Fatalf("Decrypt() error = %v, want *DecryptionError", err)
	}
	if de.Reason != "unknown key fingerprint" {
		t.Errorf("Reason = %q", de.Reason)
	}
}

func TestCipher_Malformed(t *testing.T) {
	c := newCipher(t, currentSecret, "")
	fp := c.ring.Current.Fingerprint

	tests := []struct {
		name     string
		envelope string
	}{
		{"too many parts", "v1:" + fp + ":abc:def"},
		{"too few parts", "v1:" + fp},
		{"bad base64", "v1:" + fp + ":!!!"},
		{"short payload", "v1:" + fp + ":" + base64.StdEncoding.EncodeToString([]byte("short"))},
		{"legacy garbage", "not-base64-at-all%%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decrypt(tt.envelope); !errors.Is(err, ErrDecryption) {
				t.Errorf("Decrypt(%q) error = %v, want ErrDecryption", tt.envelope, err)
			}
		})
	}
}

func TestCipher_Legacy(t *testing.T) {
	prevRing, _ := keys.NewRing(previousSecret, "")
	legacy := legacyEnvelope(t, prevRing.Current, "legacy-token")

	c := newCipher(t, currentSecret, previousSecret)
	got, err := c.Decrypt(legacy)
	if err != nil {
		t.Fatalf("Decrypt(legacy) error = %v", err)
	}
	if got != "legacy-token" {
		t.Errorf("Decrypt(legacy) = %q", got)
	}

	if _, err := newCipher(t, currentSecret, "").Decrypt(legacy); !errors.Is(err, ErrDecryption) {
		t.Errorf("legacy payload under unrelated key error = %v, want ErrDecryption", err)
	}
}

// legacyEnvelope builds the unversioned base64(nonce || tag || ct) format.
func legacyEnvelope(t *testing.T, key keys.Material, plaintext string) string {
	t.Helper()
	gcm, err := newGCM(key)
	if err != nil {
		t.Fatal(err)
	}
	nonce := make([]byte, nonceSize)
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	raw := append(append(append([]byte(nil), nonce...), tag...), ct...)
	return base64.StdEncoding.EncodeToString(raw)
}
