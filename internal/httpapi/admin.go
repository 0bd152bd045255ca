package httpapi

import (
	"net/http"
	"time"

	"agent-platform/internal/auth"
	"agent-platform/internal/audit"
	"agent-platform/internal/reporting"
	"agent-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Admin groups operator-facing handlers. Every mutation here is audited with
// the acting user and role.

type Admin struct {
	Wallet  *wallet.Service
	Reports *reporting.Service
	Audit   *audit.Service
}

type adminCreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	ExternalRef    string `json:"external_ref,omitempty"`
}

func (r adminCreditRequest) toWallet() wallet.CreditRequest {
	return wallet.CreditRequest{
		AmountMinor:    r.AmountMinor,
		Reason:         r.Reason,
		IdempotencyKey: r.IdempotencyKey,
		ExternalRef:    r.ExternalRef,
	}
}

type creditFunc func(c *gin.Context, tenantID string, req wallet.CreditRequest) (wallet.Entry, wallet.Balance, error)

// credit factors the shared parse / call / audit shape of the three
// administrative credit categories.
func (a Admin) credit(c *gin.Context, action string, fn creditFunc) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	entry, bal, err := fn(c, tenantID, req.toWallet())
	if err != nil {
		abortWalletError(c, err)
		return
	}

	actorID, _ := auth.UserID(c.Request.Context())
	actorRole, _ := auth.Role(c.Request.Context())
	if a.Audit != nil {
		// The credit already posted; an audit failure must not unwind it.
		_ = a.Audit.LogAdminAction(c.Request.Context(), tenantID, actorID, actorRole, c.ClientIP(), action, entry.WalletID, req.Reason)
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry, "balance": bal})
}

func (a Admin) TopUp(c *gin.Context) {
	a.credit(c, "wallet.top_up", func(c *gin.Context, tenantID string, req wallet.CreditRequest) (wallet.Entry, wallet.Balance, error) {
		return a.Wallet.TopUp(c.Request.Context(), tenantID, req)
	})
}

func (a Admin) ManualRollback(c *gin.Context) {
	a.credit(c, "wallet.manual_rollback", func(c *gin.Context, tenantID string, req wallet.CreditRequest) (wallet.Entry, wallet.Balance, error) {
		return a.Wallet.ManualRollback(c.Request.Context(), tenantID, req)
	})
}

func (a Admin) DisputeResolution(c *gin.Context) {
	a.credit(c, "wallet.dispute_resolution", func(c *gin.Context, tenantID string, req wallet.CreditRequest) (wallet.Entry, wallet.Balance, error) {
		return a.Wallet.DisputeResolution(c.Request.Context(), tenantID, req)
	})
}

type lockRequest struct {
	Locked bool `json:"locked"`
}

// SetWalletLock suspends or resumes debits on the tenant wallet. Credits and
// rollbacks keep posting while locked.
func (a Admin) SetWalletLock(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	w, err := a.Wallet.SetLocked(c.Request.Context(), tenantID, req.Locked)
	if err != nil {
		abortWalletError(c, err)
		return
	}

	actorID, _ := auth.UserID(c.Request.Context())
	actorRole, _ := auth.Role(c.Request.Context())
	if a.Audit != nil {
		_ = a.Audit.LogWalletStatus(c.Request.Context(), tenantID, actorID, actorRole, w.ID, string(w.Status))
	}
	c.JSON(http.StatusOK, w)
}

// --- Reports ---

func (a Admin) SpendReport(c *gin.Context) {
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
	sum, err := a.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{
		TenantID: tenantID,
		Range:    reporting.TimeRange{From: from, To: to},
		Currency: c.Query("currency"),
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (a Admin) OutcomeReport(c *gin.Context) {
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
	sum, err := a.Reports.OutcomeSummary(c.Request.Context(), reporting.OutcomeSummaryRequest{
		TenantID: tenantID,
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}
