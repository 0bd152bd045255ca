package wallet

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"agent-platform/internal/auth"
	"agent-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

const headerEstimatedCostMinor = "X-Estimated-Cost-Minor"

// BalanceService is the minimal wallet service interface needed by middleware.
type BalanceService interface {
	GetWallet(ctx context.Context, tenantID string) (Wallet, error)
	GetBalance(ctx context.Context, tenantID string) (Balance, error)
}

// RequireSpendableBalance blocks the request when the tenant cannot pay for
// metered work: the wallet is locked, or the available balance is below the
// estimated cost.
//
// The estimate comes from the optional X-Estimated-Cost-Minor header (int64);
// when absent the gate only requires a positive balance. The definitive charge
// still happens inside the handler, so this is a cheap front-door rejection,
// not the accounting.
//
// Admin override:
// - super_admin bypasses
// - hidden billing_operator bypasses
func RequireSpendableBalance(svc BalanceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := auth.Role(c.Request.Context())
		if rbac.IsSuperAdmin(role) || role == rbac.RoleBillingOperator {
			c.Next()
			return
		}

		tenantID, err := auth.TenantID(c.Request.Context())
		if err != nil || tenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
			return
		}

		estMinor := int64(1)
		if estStr := strings.TrimSpace(c.GetHeader(headerEstimatedCostMinor)); estStr != "" {
			estMinor, err = strconv.ParseInt(estStr, 10, 64)
			if err != nil || estMinor <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "estimated cost invalid"})
				return
			}
		}

		w, err := svc.GetWallet(c.Request.Context(), tenantID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet lookup failed"})
			return
		}
		if w.Status == WalletStatusLocked {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "wallet locked"})
			return
		}

		bal, err := svc.GetBalance(c.Request.Context(), tenantID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
			return
		}
		if bal.BalanceMinor < estMinor {
			// 402 Payment Required is semantically appropriate.
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
			return
		}

		c.Next()
	}
}
