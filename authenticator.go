package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Service runs signup and login. It holds no session state: every call
// re-derives its answer from the store and the hasher.
type Service struct {
	store         CredentialStore
	hasher        PasswordHasher
	codec         TokenCodec
	tokenTTL      time.Duration
	unifiedErrors bool
	now           func() time.Time
	newID         func(username string) (uuid.UUID, error)
	logger        Logger
	activitySink  ActivitySink
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithLogger sets the service logger
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		s.logger = resolveLogger(logger)
	}
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func WithActivitySink(sink ActivitySink) ServiceOption {
	return func(s *Service) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

// WithTokenTTL overrides the lifetime of issued tokens. By default the
// codec's configured TTL is used.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithUnifiedLoginErrors makes Login report ErrUnifiedCredentials for both
// unknown users and wrong passwords.
func WithUnifiedLoginErrors(enabled bool) ServiceOption {
	return func(s *Service) {
		s.unifiedErrors = enabled
	}
}

// WithClock overrides the clock used for record timestamps
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator derives record ids from the username instead of letting
// the store pick a random one.
func WithIDGenerator(gen func(username string) (uuid.UUID, error)) ServiceOption {
	return func(s *Service) {
		s.newID = gen
	}
}

// NewService creates the authentication service
func NewService(store CredentialStore, hasher PasswordHasher, codec TokenCodec, opts ...ServiceOption) *Service {
	s := &Service{
		store:        store,
		hasher:       hasher,
		codec:        codec,
		tokenTTL:     codec.DefaultTTL(),
		now:          time.Now,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Signup registers a new user. It returns ErrUsernameTaken when the
// username exists, whether the pre-check or the insert finds it.
func (s *Service) Signup(ctx context.Context, username, password string) (*User, error) {
	if username == "" {
		return nil, ErrEmptyUsername
	}

	existing, err := s.store.FindByUsername(ctx, username)
	switch {
	case err == nil && existing != nil:
		s.emit(ctx, ActivityEventSignupFailure, username, "", TextCodeUsernameTaken)
		return nil, ErrUsernameTaken
	case err != nil && !errors.IsNotFound(err):
		s.logger.Error("signup lookup failed", "username", username, "error", err)
		return nil, storeError(err, "failed to look up user during signup")
	}

	digest, err := s.hasher.Hash(ctx, password)
	if err != nil {
		s.emit(ctx, ActivityEventSignupFailure, username, "", "HASH_FAILED")
		return nil, err
	}

	record := &User{
		Username:     username,
		PasswordHash: digest,
		CreatedAt:    s.now().UTC(),
	}

	if s.newID != nil {
		id, err := s.newID(username)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to generate user id")
		}
		record.ID = id
	}

	created, err := s.store.Insert(ctx, record)
	if err != nil {
		if errors.Is(err, ErrUniquenessViolation) || errors.IsCategory(err, errors.CategoryConflict) {
			s.logger.Info("signup lost insert race", "username", username)
			s.emit(ctx, ActivityEventSignupFailure, username, "", TextCodeUsernameTaken)
			return nil, ErrUsernameTaken
		}
		s.logger.Error("signup insert failed", "username", username, "error", err)
		return nil, storeError(err, "failed to insert user during signup")
	}

	s.emit(ctx, ActivityEventSignupSuccess, created.Username, created.ID.String(), "")
	return created.Principal(), nil
}

// Login verifies credentials and issues a bearer token with the configured
// TTL.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.store.FindByUsername(ctx, username)
	if err != nil && !errors.IsNotFound(err) {
		s.logger.Error("login lookup failed", "username", username, "error", err)
		return nil, storeError(err, "failed to look up user during login")
	}

	if user == nil || err != nil {
		// same bcrypt cost as a real mismatch
		s.hasher.Verify(ctx, password, "")
		s.emit(ctx, ActivityEventLoginFailure, username, "", TextCodeUnknownUser)
		return nil, s.loginError(ErrUnknownUser)
	}

	if !s.hasher.Verify(ctx, password, user.PasswordHash) {
		s.emit(ctx, ActivityEventLoginFailure, username, user.ID.String(), TextCodeInvalidCredentials)
		return nil, s.loginError(ErrBadCredentials)
	}

	token, err := s.codec.Issue(user.Username, s.tokenTTL)
	if err != nil {
		s.logger.Error("login token issue failed", "username", username, "error", err)
		return nil, err
	}

	s.emit(ctx, ActivityEventLoginSuccess, user.Username, user.ID.String(), "")

	return &LoginResult{
		AccessToken: token,
		TokenType:   TokenTypeBearer,
	}, nil
}

// UnifiedLoginErrors reports whether login failures are folded together
func (s *Service) UnifiedLoginErrors() bool {
	return s.unifiedErrors
}

func (s *Service) loginError(err *errors.Error) error {
	if s.unifiedErrors {
		return ErrUnifiedCredentials
	}
	return err
}

func (s *Service) emit(ctx context.Context, eventType ActivityEventType, username, userID, reason string) {
	event := ActivityEvent{
		EventType:  eventType,
		Username:   username,
		UserID:     userID,
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	}
	if err := s.activitySink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record failed", "event", eventType, "error", err)
	}
}
