package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"agent-platform/internal/billing"
	"agent-platform/internal/bus"
	"agent-platform/internal/rates"
	"agent-platform/internal/wallet"
)

type fakeProvider struct {
	text  string
	err   error
	calls int
}

func (f *fakeProvider) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	f.calls++
	return f.text, f.err
}

func newSTTFixture(t *testing.T, p Provider, billPerAttempt bool, openingMinor int64) (*Service, *wallet.Service) {
	t.Helper()

	ws := wallet.NewMemoryStore()
	ws.CreateWallet("tn-1", "USD", openingMinor)
	rateRepo := &rates.MemoryRepo{Rates: []rates.OperationRate{{
		ID: "r1", TenantID: "tn-1", Operation: rates.OpSpeechToText,
		Currency: "USD", UnitPriceMinor: 20, Status: rates.RateStatusActive,
	}}}
	wsvc := wallet.NewService(ws, rates.NewService(rateRepo))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(log)
	t.Cleanup(b.Close)
	billing.Register(b, wsvc, log)

	return NewService(p, b, log, billPerAttempt), wsvc
}

func TestTranscribe_ChargesOnSuccess(t *testing.T) {
	svc, wsvc := newSTTFixture(t, &fakeProvider{text: "book me a slot"}, false, 100)
	ctx := context.Background()

	text, err := svc.Transcribe(ctx, "tn-1", "conv-1", []byte("riff"), "audio/wav", "conv-1:1:speech_to_text")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "book me a slot" {
		t.Fatalf("unexpected transcript %q", text)
	}
	bal, _ := wsvc.GetBalance(ctx, "tn-1")
	if bal.BalanceMinor != 80 {
		t.Fatalf("expected 80, got %d", bal.BalanceMinor)
	}
}

func TestTranscribe_ProviderFailureNotChargedByDefault(t *testing.T) {
	svc, wsvc := newSTTFixture(t, &fakeProvider{err: errors.New("stt offline")}, false, 100)
	ctx := context.Background()

	_, err := svc.Transcribe(ctx, "tn-1", "conv-1", []byte("riff"), "audio/wav", "k1")
	if err == nil {
		t.Fatalf("expected provider error")
	}
	bal, _ := wsvc.GetBalance(ctx, "tn-1")
	if bal.BalanceMinor != 100 {
		t.Fatalf("failed attempt must not charge, got %d", bal.BalanceMinor)
	}
}

func TestTranscribe_BillPerAttemptKeepsFailedCharge(t *testing.T) {
	svc, wsvc := newSTTFixture(t, &fakeProvider{err: errors.New("stt offline")}, true, 100)
	ctx := context.Background()

	_, err := svc.Transcribe(ctx, "tn-1", "conv-1", []byte("riff"), "audio/wav", "k1")
	if err == nil {
		t.Fatalf("expected provider error")
	}
	bal, _ := wsvc.GetBalance(ctx, "tn-1")
	if bal.BalanceMinor != 80 {
		t.Fatalf("bill-per-attempt must keep the charge, got %d", bal.BalanceMinor)
	}
}

func TestTranscribe_BillPerAttemptChargesBeforeProvider(t *testing.T) {
	p := &fakeProvider{text: "x"}
	svc, _ := newSTTFixture(t, p, true, 5)

	_, err := svc.Transcribe(context.Background(), "tn-1", "conv-1", []byte("riff"), "audio/wav", "k1")
	if !errors.Is(err, wallet.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if p.calls != 0 {
		t.Fatalf("provider must not run when the up-front charge fails")
	}
}

func TestTranscribe_RejectsUnsupportedMime(t *testing.T) {
	p := &fakeProvider{text: "x"}
	svc, _ := newSTTFixture(t, p, false, 100)

	_, err := svc.Transcribe(context.Background(), "tn-1", "conv-1", []byte("a"), "video/mp4", "k1")
	if !errors.Is(err, ErrUnsupportedMime) {
		t.Fatalf("expected ErrUnsupportedMime, got %v", err)
	}
	if _, err := svc.Transcribe(context.Background(), "tn-1", "conv-1", nil, "audio/wav", "k2"); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
	if p.calls != 0 {
		t.Fatalf("provider must not run for rejected input")
	}
}
