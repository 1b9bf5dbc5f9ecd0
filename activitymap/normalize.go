package activitymap

import (
	"context"
	"log/slog"
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-service"
)

const (
	// MetadataKeyUsername stores the username the event is about.
	MetadataKeyUsername = "username"
	// MetadataKeyReason stores the failure reason text code.
	MetadataKeyReason = "reason"
	// MetadataKeyOutcome stores "success" or "failure".
	MetadataKeyOutcome = "outcome"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "user"
	defaultActorID    = "anonymous"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	objectType    string
	actorFallback string
}

// Normalize converts an auth.ActivityEvent into a generic normalized shape.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   strings.TrimSpace(event.UserID),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback sets the actor id used when the event has no user id.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// SlogSink returns an ActivitySink that writes normalized events to logger
func SlogSink(logger *slog.Logger, opts ...Option) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		n := Normalize(event, opts...)
		attrs := []any{
			slog.String("actor_id", n.ActorID),
			slog.String("object_type", n.ObjectType),
			slog.String("channel", n.Channel),
			slog.Time("occurred_at", n.OccurredAt),
		}
		if n.ObjectID != "" {
			attrs = append(attrs, slog.String("object_id", n.ObjectID))
		}
		if len(n.Metadata) > 0 {
			attrs = append(attrs, slog.Any("metadata", n.Metadata))
		}
		logger.InfoContext(ctx, n.Verb, attrs...)
		return nil
	})
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func normalizeMetadata(event auth.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}

	if username := strings.TrimSpace(event.Username); username != "" {
		metadata[MetadataKeyUsername] = username
	}

	if reason := strings.TrimSpace(event.Reason); reason != "" {
		metadata[MetadataKeyReason] = reason
	}

	switch event.EventType {
	case auth.ActivityEventSignupFailure, auth.ActivityEventLoginFailure:
		metadata[MetadataKeyOutcome] = "failure"
	case auth.ActivityEventSignupSuccess, auth.ActivityEventLoginSuccess:
		metadata[MetadataKeyOutcome] = "success"
	}

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
