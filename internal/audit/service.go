package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction records an admin money action (including hidden roles).
func (s *Service) LogAdminAction(ctx context.Context, tenantID, actorUserID, actorRole, ip, message, walletID, metadata string) error {
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		WalletID:    walletID,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogEscalation records a conversation handed to a human, including the
// automatic path after repeated interpreter failures.
func (s *Service) LogEscalation(ctx context.Context, tenantID, conversationID, ticketID, reason string) error {
	return s.Append(ctx, Event{
		TenantID:       tenantID,
		Type:           EventTypeEscalation,
		ConversationID: conversationID,
		TicketID:       ticketID,
		Message:        reason,
	})
}

// LogRollback records a compensating credit for a failed unit of work.
func (s *Service) LogRollback(ctx context.Context, tenantID, conversationID, ledgerKey, reason string) error {
	return s.Append(ctx, Event{
		TenantID:       tenantID,
		Type:           EventTypeRollback,
		ConversationID: conversationID,
		LedgerKey:      ledgerKey,
		Message:        reason,
	})
}

// LogWalletStatus records a lock or unlock flip on a tenant wallet.
func (s *Service) LogWalletStatus(ctx context.Context, tenantID, actorUserID, actorRole, walletID, status string) error {
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        EventTypeWalletStatus,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		WalletID:    walletID,
		Message:     "wallet status set to " + status,
	})
}
