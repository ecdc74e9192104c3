// Package logging provides structured logging utilities for the gateway.
//
// It builds the process logger from configuration and centralizes attribute
// naming so every package logs the same keys for the same concepts.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithComponent(base, "session")
//	logger.Warn("token refresh failed",
//	    logging.SIDHash(sid),
//	    logging.Err(err))
//
// # Security Considerations
//
//   - Session identifiers are logged only as truncated SHA-256 hashes
//   - User emails are hashed to prevent PII leakage while allowing correlation
//   - Tokens are never logged directly
package logging
