// Package cmd implements the command-line interface for calassist.
//
// This package provides the following commands:
//   - serve: Start the HTTP gateway (sign-in, sessions, calendar proxy)
//   - migrate up|status: Apply or inspect the database migrations
//   - config check: Validate the environment and print a safe summary
//   - sessions invalidate: Delete sessions by id or by Google subject
//   - version: Display version information
//
// Every command reads its configuration from the environment.
package cmd
