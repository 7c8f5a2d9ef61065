package benchmark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"mailbench/email"
	"mailbench/models"
)

var (
	// ErrMalformedMessage means the envelope's Message is not valid JSON
	ErrMalformedMessage = errors.New("malformed notification message")
	// ErrMissingStorageReference means an object-storage notification has no bucket or key
	ErrMissingStorageReference = errors.New("missing storage reference")
	// ErrMissingTimestamp means an object-storage notification has no usable mail.timestamp
	ErrMissingTimestamp = errors.New("missing mail timestamp")
	// ErrUnsupportedMessageType means the envelope type is not one SNS defines
	ErrUnsupportedMessageType = errors.New("unsupported message type")
	// ErrMissingSubscribeURL means a subscription confirmation has nowhere to confirm to
	ErrMissingSubscribeURL = errors.New("missing SubscribeURL")
)

// ObjectFetcher reads a stored email
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) (string, error)
}

// SubscriptionConfirmer acknowledges an SNS subscription handshake
type SubscriptionConfirmer interface {
	Confirm(ctx context.Context, subscribeURL string) error
}

// LatencyRecorder stores latency samples per approach
type LatencyRecorder interface {
	Record(approach models.Approach, latencyMs int64)
}

// Service runs the two ingestion pipelines
type Service struct {
	fetcher   ObjectFetcher
	confirmer SubscriptionConfirmer
	recorder  LatencyRecorder
	now       func() time.Time
}

// NewService wires the pipelines to their collaborators
func NewService(fetcher ObjectFetcher, confirmer SubscriptionConfirmer, recorder LatencyRecorder) *Service {
	return &Service{
		fetcher:   fetcher,
		confirmer: confirmer,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Acknowledge answers a subscription lifecycle message. Confirmations visit
// the SubscribeURL; unsubscribe confirmations need no reply.
func (s *Service) Acknowledge(ctx context.Context, approach models.Approach, env *models.Envelope) (*models.StatusResponse, error) {
	l := log.With().Str("approach", string(approach)).Str("type", string(env.Type)).Logger()

	switch env.Type {
	case models.MessageTypeSubscriptionConfirmation:
		if env.SubscribeURL == "" {
			return nil, ErrMissingSubscribeURL
		}
		l.Info().Str("topic_arn", env.TopicArn).Msg("Confirming SNS subscription")
		if err := s.confirmer.Confirm(ctx, env.SubscribeURL); err != nil {
			return nil, err
		}
		return &models.StatusResponse{Status: "subscription confirmed"}, nil
	case models.MessageTypeUnsubscribeConfirmation:
		l.Info().Str("topic_arn", env.TopicArn).Msg("SNS subscription removed")
		return &models.StatusResponse{Status: "unsubscribe acknowledged"}, nil
	default:
		return nil, fmt.Errorf("%w: %q is not a handshake", ErrUnsupportedMessageType, env.Type)
	}
}

// ProcessObjectStorage handles a notification that points at an email stored
// in S3. The notification must carry the bucket, the key and the send time;
// nothing is recorded when any step fails.
func (s *Service) ProcessObjectStorage(ctx context.Context, env *models.Envelope) (*models.IngestionResult, error) {
	if err := checkNotification(env); err != nil {
		return nil, err
	}

	msg, err := models.ParseSESNotification(env.Message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	ref, ok := msg.StorageReference()
	if !ok {
		return nil, ErrMissingStorageReference
	}

	sentAt, ok := msg.SentAt()
	if !ok {
		return nil, ErrMissingTimestamp
	}

	content, err := s.fetcher.Fetch(ctx, ref.Bucket, ref.Key)
	if err != nil {
		return nil, err
	}
	receivedAt := s.now()

	parsed := email.Decode(content)
	latency := receivedAt.Sub(sentAt).Milliseconds()

	s.recorder.Record(models.ApproachObjectStorage, latency)
	log.Info().
		Str("approach", string(models.ApproachObjectStorage)).
		Str("email_id", msg.Mail.MessageID).
		Str("subject", parsed.Subject()).
		Int64("latency_ms", latency).
		Msg("Email ingested")

	return &models.IngestionResult{
		Approach:  models.ApproachObjectStorage,
		EmailID:   msg.Mail.MessageID,
		SizeBytes: parsed.Size,
		LatencyMs: latency,
	}, nil
}

// ProcessDirectInline handles a notification carrying the email itself.
// Missing fields degrade instead of failing: the content falls back to the
// raw Message, the send time to the receipt time and the ID to "unknown".
func (s *Service) ProcessDirectInline(ctx context.Context, env *models.Envelope) (*models.IngestionResult, error) {
	receivedAt := s.now()

	if err := checkNotification(env); err != nil {
		return nil, err
	}

	msg, err := models.ParseSESNotification(env.Message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	content := msg.Content
	if content == "" {
		content = env.Message
	}

	parsed := email.Decode(content)
	latency := receivedAt.Sub(msg.SentAtOrDefault(receivedAt)).Milliseconds()
	emailID := msg.MessageIDOrDefault(models.UnknownEmailID)

	s.recorder.Record(models.ApproachDirectInline, latency)
	log.Info().
		Str("approach", string(models.ApproachDirectInline)).
		Str("email_id", emailID).
		Str("subject", parsed.Subject()).
		Int64("latency_ms", latency).
		Msg("Email ingested")

	return &models.IngestionResult{
		Approach:  models.ApproachDirectInline,
		EmailID:   emailID,
		SizeBytes: parsed.Size,
		LatencyMs: latency,
	}, nil
}

// checkNotification rejects envelopes that are not deliveries. An empty type
// is treated as a notification.
func checkNotification(env *models.Envelope) error {
	if env.Type == "" || env.Type == models.MessageTypeNotification {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedMessageType, env.Type)
}
