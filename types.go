package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Logger is the logging surface used across the package. A *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PasswordHasher produces and checks self-describing salted digests
type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	// Verify reports whether plaintext matches digest. A malformed digest
	// is a mismatch, never an error.
	Verify(ctx context.Context, plaintext, digest string) bool
}

// TokenCodec issues and verifies signed bearer tokens
type TokenCodec interface {
	Issue(subject string, ttl time.Duration) (string, error)
	Verify(token string) (string, error)
	VerifyClaims(token string) (*Claims, error)
	DefaultTTL() time.Duration
}

// CredentialStore is the user record store consumed by Service and
// IdentityResolver.
type CredentialStore interface {
	// FindByUsername returns ErrUserNotFound when there is no record
	FindByUsername(ctx context.Context, username string) (*User, error)
	// Insert returns ErrUniquenessViolation when the username exists
	Insert(ctx context.Context, user *User) (*User, error)
}

// PrincipalCache is an optional positive-result cache for IdentityResolver.
// Keys are derived from the presented token.
type PrincipalCache interface {
	Get(ctx context.Context, key string) (*User, bool, error)
	Set(ctx context.Context, key string, user *User, ttl time.Duration) error
	InvalidateUser(ctx context.Context, username string) error
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print(format("[ERR] AUTH ", msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print(format("[WRN] AUTH ", msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print(format("[INF] AUTH ", msg, args...))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print(format("[DBG] AUTH ", msg, args...))
}

// format renders slog style key/value pairs after the message
func format(prefix, msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fmt.Fprintf(&b, " %v", args[i])
			break
		}
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return newline(b.String())
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// nopLogger drops everything
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger returns a Logger that discards all output
func NopLogger() Logger {
	return nopLogger{}
}

func resolveLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
