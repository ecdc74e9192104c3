package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// Attribute keys shared by every package.
const (
	KeyOperation = "operation"
	KeyComponent = "component"
	KeySIDHash   = "sid_hash"
	KeyUserHash  = "user_hash"
	KeyStatus    = "status"
	KeyError     = "error"
)

// sidHashLength is the number of hex characters kept from a session id hash.
const sidHashLength = 16

// WithComponent returns a logger tagged with the owning component.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String(KeyComponent, component))
}

// Operation names the step that produced a log line.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Err returns an error attribute, or an empty group that slog omits when err
// is nil.
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// HashSID returns a truncated SHA-256 of a session id. Raw session ids are
// bearer credentials and never appear in logs.
func HashSID(sid string) string {
	if sid == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sid))
	return hex.EncodeToString(sum[:])[:sidHashLength]
}

// SIDHash returns the hashed session id attribute.
func SIDHash(sid string) slog.Attr {
	return slog.String(KeySIDHash, HashSID(sid))
}

// AnonymizeEmail hashes an email so log lines can be correlated without
// exposing the address.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns the anonymized email attribute.
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}
