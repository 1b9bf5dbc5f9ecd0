package auth

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

const (
	minBcryptCost = bcrypt.MinCost
	maxBcryptCost = bcrypt.MaxCost
	// bcrypt ignores everything past 72 bytes
	maxPasswordBytes = 72
)

// BcryptHasher hashes passwords with bcrypt. The number of concurrent hash
// and compare operations is bounded so CPU bound work cannot starve the
// request handlers.
type BcryptHasher struct {
	cost  int
	sem   *semaphore.Weighted
	dummy func() []byte
}

var _ PasswordHasher = (*BcryptHasher)(nil)

// HasherOption configures a BcryptHasher
type HasherOption func(*BcryptHasher)

// WithBcryptCost sets the work factor. Values outside the bcrypt range fall
// back to the default cost.
func WithBcryptCost(cost int) HasherOption {
	return func(h *BcryptHasher) {
		if cost < minBcryptCost || cost > maxBcryptCost {
			cost = passwordHashCost()
		}
		h.cost = cost
	}
}

// WithHashConcurrency bounds concurrent bcrypt operations
func WithHashConcurrency(n int) HasherOption {
	return func(h *BcryptHasher) {
		if n > 0 {
			h.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewBcryptHasher creates a hasher with the default cost and one slot per
// available CPU.
func NewBcryptHasher(opts ...HasherOption) *BcryptHasher {
	h := &BcryptHasher{cost: passwordHashCost()}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	if h.sem == nil {
		h.sem = semaphore.NewWeighted(int64(Settings{}.HashWorkers()))
	}

	cost := h.cost
	h.dummy = sync.OnceValue(func() []byte {
		d, _ := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
		return d
	})

	return h
}

// NewBcryptHasherFromSettings wires cost and concurrency from Settings
func NewBcryptHasherFromSettings(s Settings) *BcryptHasher {
	return NewBcryptHasher(
		WithBcryptCost(s.BcryptCost),
		WithHashConcurrency(s.HashWorkers()),
	)
}

// Cost returns the configured work factor
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash returns a salted bcrypt digest of plaintext
func (h *BcryptHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}

	if len(plaintext) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	d, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", err
	}

	return string(d), nil
}

// Verify compares plaintext and digest in constant time. Malformed digests
// are compared against a dummy digest so they cost the same as a mismatch.
func (h *BcryptHasher) Verify(ctx context.Context, plaintext, digest string) bool {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.sem.Release(1)

	if _, err := bcrypt.Cost([]byte(digest)); err != nil {
		_ = bcrypt.CompareHashAndPassword(h.dummy(), []byte(plaintext))
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

var (
	defaultHasherOnce sync.Once
	defaultHasher     *BcryptHasher
)

func getDefaultHasher() *BcryptHasher {
	defaultHasherOnce.Do(func() {
		defaultHasher = NewBcryptHasher()
	})
	return defaultHasher
}

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	return getDefaultHasher().Hash(context.Background(), password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if !getDefaultHasher().Verify(context.Background(), password, hash) {
		return ErrBadCredentials
	}
	return nil
}
