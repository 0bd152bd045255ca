package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"agent-platform/internal/bus"
	"agent-platform/internal/rates"
)

var (
	ErrUnsupportedMime = errors.New("transcribe: unsupported audio type")
	ErrEmptyAudio      = errors.New("transcribe: empty audio")
)

// allowedMimes is the fixed set of audio types accepted for upload.
var allowedMimes = map[string]bool{
	"audio/wav":  true,
	"audio/mpeg": true,
	"audio/mp4":  true,
	"audio/ogg":  true,
	"audio/webm": true,
}

// Publisher is the slice of the event bus the metered service needs.
type Publisher interface {
	Publish(ctx context.Context, topic bus.Topic, tenantID string, payload any) error
}

// Service meters speech-to-text work. Default policy charges only for
// successful transcriptions; with billPerAttempt the provider call is charged
// up front and kept even when it fails.
type Service struct {
	provider       Provider
	pub            Publisher
	log            *slog.Logger
	billPerAttempt bool
}

func NewService(provider Provider, pub Publisher, log *slog.Logger, billPerAttempt bool) *Service {
	return &Service{provider: provider, pub: pub, log: log, billPerAttempt: billPerAttempt}
}

// Transcribe turns one audio turn into text, charging one speech_to_text unit
// under the caller's idempotency key.
func (s *Service) Transcribe(ctx context.Context, tenantID, convID string, audio []byte, mimeType, idemKey string) (string, error) {
	if !allowedMimes[mimeType] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMime, mimeType)
	}
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	if s.billPerAttempt {
		if err := s.charge(ctx, tenantID, convID, idemKey); err != nil {
			return "", err
		}
		return s.provider.Transcribe(ctx, audio, mimeType)
	}

	text, err := s.provider.Transcribe(ctx, audio, mimeType)
	if err != nil {
		return "", err
	}
	if err := s.charge(ctx, tenantID, convID, idemKey); err != nil {
		// The transcript is withheld when it cannot be paid for.
		return "", err
	}
	return text, nil
}

func (s *Service) charge(ctx context.Context, tenantID, convID, idemKey string) error {
	return s.pub.Publish(ctx, bus.TopicUsageCharge, tenantID, bus.UsageCharge{
		Operation:      string(rates.OpSpeechToText),
		Quantity:       1,
		ConversationID: convID,
		IdempotencyKey: idemKey,
	})
}
