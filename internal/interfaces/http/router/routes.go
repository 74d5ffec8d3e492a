package router

import (
	"github.com/erp/paymentalloc/internal/infrastructure/auth"
	"github.com/erp/paymentalloc/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
)

// PermissionGuard builds a handler that admits only requests granted perm
type PermissionGuard func(perm string) gin.HandlerFunc

func (g PermissionGuard) wrap(perm string, h gin.HandlerFunc) []gin.HandlerFunc {
	if g == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{g(perm), h}
}

// AllocationRoutes returns the route groups served by the allocation
// handler. A nil guard leaves every route open.
func AllocationRoutes(h *handler.AllocationHandler, guard PermissionGuard) []RouteRegistrar {
	read := func(fn gin.HandlerFunc) []gin.HandlerFunc { return guard.wrap(auth.PermAllocationRead, fn) }
	write := func(fn gin.HandlerFunc) []gin.HandlerFunc { return guard.wrap(auth.PermAllocationWrite, fn) }

	payments := NewDomainGroup("payments", "/payments").
		POST("", write(h.RecordPayment)...).
		GET("/unapplied", read(h.ListUnapplied)...).
		GET("/unapplied/stats", read(h.UnappliedStats)...).
		GET("/:id", read(h.GetPayment)...).
		POST("/:id/void", write(h.VoidPayment)...).
		GET("/:id/allocations", read(h.ListPaymentAllocations)...).
		POST("/:id/allocations", write(h.Commit)...).
		POST("/:id/allocations/propose", read(h.Propose)...).
		POST("/:id/allocations/validate", read(h.Validate)...)

	allocations := NewDomainGroup("allocations", "/allocations").
		POST("/rollback", write(h.Rollback)...)

	customers := NewDomainGroup("customers", "/customers").
		GET("/:id/obligations", read(h.ListObligations)...)

	reconciliation := NewDomainGroup("reconciliation", "/reconciliation").
		POST("/run", guard.wrap(auth.PermReconcile, h.RunReconciliation)...)

	holds := NewDomainGroup("integrity-holds", "/integrity-holds").
		GET("", read(h.ListHolds)...).
		POST("/:id/release", guard.wrap(auth.PermHoldRelease, h.ReleaseHold)...)

	return []RouteRegistrar{payments, allocations, customers, reconciliation, holds}
}

// RegisterHealth mounts GET /health outside the versioned API
func RegisterHealth(engine *gin.Engine, h *handler.HealthHandler) {
	engine.GET("/health", h.Health)
}
