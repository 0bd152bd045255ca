package httpapi

import (
	"errors"
	"net/http"
	"time"

	"agent-platform/internal/auth"
	"agent-platform/internal/convo"
	"agent-platform/internal/orchestrator"
	"agent-platform/internal/rbac"
	"agent-platform/internal/schedule"
	"agent-platform/internal/transcribe"
	"agent-platform/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth       *auth.Manager
	Wallet     *wallet.Service
	Orch       *orchestrator.Orchestrator
	Convs      convo.Repository
	Transcribe *transcribe.Service
	Schedule   *schedule.Service
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Conversations ---

type turnRequest struct {
	Text string `json:"text"`
	// Mode applies only when this turn creates the conversation.
	Mode string `json:"mode,omitempty"`
}

// PostTurn runs one user turn through the orchestrator.
func (h Handlers) PostTurn(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	convID := c.Param("id")

	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	mode := convo.Mode(req.Mode)
	if req.Mode == "" {
		mode = convo.ModeTraining
	}
	if _, err := h.Orch.EnsureConversation(c.Request.Context(), tenantID, convID, mode); err != nil {
		if errors.Is(err, convo.ErrInvalidMode) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "mode must be training or live"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "conversation lookup failed"})
		return
	}

	reply, err := h.Orch.HandleTurn(c.Request.Context(), tenantID, convID, req.Text)
	if err != nil {
		abortTurnError(c, err)
		return
	}

	conv, err := h.Convs.Get(c.Request.Context(), tenantID, convID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "conversation lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply, "state": conv.State})
}

// PostAudioTurn transcribes an uploaded audio turn, then runs the transcript
// through the orchestrator. The raw request body is the audio; the mime type
// comes from Content-Type.
func (h Handlers) PostAudioTurn(c *gin.Context) {
	if h.Transcribe == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "transcription not configured"})
		return
	}
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	convID := c.Param("id")

	audio, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "could not read audio body"})
		return
	}

	idemKey := c.GetHeader("X-Idempotency-Key")
	if idemKey == "" {
		idemKey = uuid.NewString()
	}
	text, err := h.Transcribe.Transcribe(c.Request.Context(), tenantID, convID, audio, c.ContentType(), idemKey)
	if err != nil {
		switch {
		case errors.Is(err, transcribe.ErrUnsupportedMime), errors.Is(err, transcribe.ErrEmptyAudio):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, wallet.ErrInsufficientFunds):
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
		case errors.Is(err, wallet.ErrWalletLocked):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "wallet locked"})
		default:
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "transcription failed"})
		}
		return
	}

	if _, err := h.Orch.EnsureConversation(c.Request.Context(), tenantID, convID, convo.ModeTraining); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "conversation lookup failed"})
		return
	}
	reply, err := h.Orch.HandleTurn(c.Request.Context(), tenantID, convID, text)
	if err != nil {
		abortTurnError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcript": text, "reply": reply})
}

// GetConversation returns the conversation with its transcript tail.
func (h Handlers) GetConversation(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	convID := c.Param("id")

	conv, err := h.Convs.Get(c.Request.Context(), tenantID, convID)
	if err != nil {
		if errors.Is(err, convo.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "conversation lookup failed"})
		return
	}
	msgs, err := h.Convs.History(c.Request.Context(), tenantID, convID, 200)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": msgs})
}

func abortTurnError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidTurn):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "text required"})
	case errors.Is(err, orchestrator.ErrTooManyTurns):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent turns"})
	case errors.Is(err, orchestrator.ErrWalletLocked):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "wallet locked"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "turn failed"})
	}
}

// --- Wallet (read) ---

func (h Handlers) GetWalletBalance(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), tenantID)
	if err != nil {
		abortWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// GetWalletLedger lists ledger entries in [from, to). Defaults to the last
// 30 days.
func (h Handlers) GetWalletLedger(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	from, to, err := timeRangeQuery(c, 30*24*time.Hour)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries, err := h.Wallet.ListLedger(c.Request.Context(), tenantID, from, to)
	if err != nil {
		abortWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// --- Tickets / appointments ---

func (h Handlers) ListAppointments(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	appts, err := h.Schedule.ListAppointments(c.Request.Context(), tenantID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "appointment lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointments": appts})
}

func (h Handlers) ListTickets(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	tickets, err := h.Schedule.ListTickets(c.Request.Context(), tenantID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ticket lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

type ticketStatusRequest struct {
	Status string `json:"status"`
}

func (h Handlers) UpdateTicketStatus(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	var req ticketStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status required"})
		return
	}
	tk, err := h.Schedule.TransitionTicket(c.Request.Context(), tenantID, c.Param("id"), schedule.TicketStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, schedule.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		case errors.Is(err, schedule.ErrInvalidTransition):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "invalid status transition"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ticket update failed"})
		}
		return
	}
	c.JSON(http.StatusOK, tk)
}

// --- Shared helpers ---

func abortWalletError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, wallet.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
	case errors.Is(err, wallet.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, wallet.ErrInsufficientFunds):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
	case errors.Is(err, wallet.ErrWalletLocked):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "wallet locked"})
	case errors.Is(err, wallet.ErrAlreadyRolledBack):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "charge already rolled back"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet operation failed"})
	}
}

// timeRangeQuery parses optional from/to RFC 3339 query params, defaulting to
// a trailing window ending now.
func timeRangeQuery(c *gin.Context, window time.Duration) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now.Add(-window), now

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC 3339")
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC 3339")
		}
		to = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}

// Convenience middleware bundles.

func RequireTenantAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireTenant(), rbac.RequireAnyRole(roles...)}
}
