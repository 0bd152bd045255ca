package main

import (
	"agent-platform/internal/auth"
	"agent-platform/internal/httpapi"
	"agent-platform/internal/rbac"
	"agent-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

type deps struct {
	auth     *auth.Manager
	handlers httpapi.Handlers
	admin    httpapi.Admin
	wallet   *wallet.Service
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d deps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", d.handlers.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			tid, _ := auth.TenantID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
		})

		// CONVERSATION routes. Turns are gated on a spendable balance before
		// any model call happens.
		convs := v1.Group("/conversations")
		convs.Use(httpapi.RequireTenantAndAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleSuperAdmin)...)
		{
			gate := wallet.RequireSpendableBalance(d.wallet)
			convs.POST("/:id/turns", gate, d.handlers.PostTurn)
			convs.POST("/:id/audio-turns", gate, d.handlers.PostAudioTurn)
			convs.GET("/:id", d.handlers.GetConversation)
		}

		// WALLET routes (read-only for tenant members).
		wallets := v1.Group("/wallet")
		wallets.Use(httpapi.RequireTenantAndAnyRole(rbac.RoleOwner, rbac.RoleFinance, rbac.RoleSuperAdmin)...)
		{
			wallets.GET("/balance", d.handlers.GetWalletBalance)
			wallets.GET("/ledger", d.handlers.GetWalletLedger)
		}

		// SCHEDULE routes.
		sched := v1.Group("")
		sched.Use(httpapi.RequireTenantAndAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleSuperAdmin)...)
		{
			sched.GET("/appointments", d.handlers.ListAppointments)
			sched.GET("/tickets", d.handlers.ListTickets)
			sched.POST("/tickets/:id/status", d.handlers.UpdateTicketStatus)
		}

		// ADMIN routes.
		// Owner covers tenant self-service; billing_operator is the hidden
		// cross-tenant support role and is allowed here explicitly.
		admin := v1.Group("/admin")
		admin.Use(httpapi.RequireTenantAndAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin, rbac.RoleBillingOperator)...)
		{
			admin.POST("/wallet/top-up", d.admin.TopUp)
			admin.POST("/wallet/manual-rollback", d.admin.ManualRollback)
			admin.POST("/wallet/dispute-resolution", d.admin.DisputeResolution)
			admin.POST("/wallet/lock", d.admin.SetWalletLock)

			admin.GET("/reports/spend", d.admin.SpendReport)
			admin.GET("/reports/outcomes", d.admin.OutcomeReport)
		}
	}
}
