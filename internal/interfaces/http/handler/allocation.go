package handler

import (
	"errors"
	"io"

	allocationapp "github.com/erp/paymentalloc/internal/application/allocation"
	"github.com/erp/paymentalloc/internal/domain/shared"
	"github.com/erp/paymentalloc/internal/interfaces/http/dto"
	"github.com/erp/paymentalloc/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AllocationHandler handles payment, allocation and integrity endpoints
type AllocationHandler struct {
	BaseHandler
	service *allocationapp.Service
}

// NewAllocationHandler creates a new AllocationHandler
func NewAllocationHandler(service *allocationapp.Service) *AllocationHandler {
	return &AllocationHandler{service: service}
}

// UnappliedQuery holds the query parameters of GET /payments/unapplied
type UnappliedQuery struct {
	dto.ListRequest
	CustomerID string `form:"customer_id" binding:"omitempty,uuid"`
}

// RecordPayment handles POST /payments
func (h *AllocationHandler) RecordPayment(c *gin.Context) {
	var req allocationapp.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	payment, err := h.service.RecordPayment(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, payment)
}

// GetPayment handles GET /payments/:id
func (h *AllocationHandler) GetPayment(c *gin.Context) {
	id, ok := h.ParseID(c, "id", "payment")
	if !ok {
		return
	}

	payment, err := h.service.GetPayment(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, payment)
}

// VoidPayment handles POST /payments/:id/void
func (h *AllocationHandler) VoidPayment(c *gin.Context) {
	id, ok := h.ParseID(c, "id", "payment")
	if !ok {
		return
	}
	var req allocationapp.VoidPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	payment, err := h.service.VoidPayment(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, payment)
}

// ListPaymentAllocations handles GET /payments/:id/allocations
func (h *AllocationHandler) ListPaymentAllocations(c *gin.Context) {
	id, ok := h.ParseID(c, "id", "payment")
	if !ok {
		return
	}

	allocs, err := h.service.ListPaymentAllocations(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, allocs)
}

// ListUnapplied handles GET /payments/unapplied
func (h *AllocationHandler) ListUnapplied(c *gin.Context) {
	q := UnappliedQuery{ListRequest: dto.DefaultListRequest()}
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}

	var customerID *uuid.UUID
	if q.CustomerID != "" {
		id := uuid.MustParse(q.CustomerID)
		customerID = &id
	}

	page, err := h.service.ListUnappliedPayments(c.Request.Context(), customerID, shared.Filter{
		Page:     q.Page,
		PageSize: q.PageSize,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// UnappliedStats handles GET /payments/unapplied/stats
func (h *AllocationHandler) UnappliedStats(c *gin.Context) {
	stats, err := h.service.GetUnappliedStats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

// ListObligations handles GET /customers/:id/obligations
func (h *AllocationHandler) ListObligations(c *gin.Context) {
	id, ok := h.ParseID(c, "id", "customer")
	if !ok {
		return
	}

	obs, err := h.service.ListObligations(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, obs)
}

// Propose handles POST /payments/:id/allocations/propose. An empty body
// uses the configured default strategy.
func (h *AllocationHandler) Propose(c *gin.Context) {
	id, ok := h.ParseID(c, "id", "payment")
	if !ok {
		return
	}
	var req allocationapp.ProposeAllocationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BindError(c, err)
			return
		}
	}
	if req.Strategy == "" {
		req.Strategy = c.Query("strategy")
	}

	proposal, err := h.service.ProposeAllocation(c.Request.Context(), id, req.Strategy)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, proposal)
}

// Validate handles POST /payments/:id/allocations/validate. A failed
// check is still a 200: the outcome is in the body.
func (h *AllocationHandler) Validate(c *gin.Context) {
	id, ok := h.ParseID(c, "id", "payment")
	if !ok {
		return
	}
	var req allocationapp.ValidateAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	result, err := h.service.ValidateAllocation(c.Request.Context(), id, allocationapp.ToLines(req.Lines))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Commit handles POST /payments/:id/allocations. A replayed
// Idempotency-Key answers 200 with the stored outcome instead of 201.
func (h *AllocationHandler) Commit(c *gin.Context) {
	id, ok := h.ParseID(c, "id", "payment")
	if !ok {
		return
	}
	var req allocationapp.CommitAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	result, err := h.service.CommitAllocation(c.Request.Context(), allocationapp.CommitInput{
		PaymentID:       id,
		Lines:           allocationapp.ToLines(req.Lines),
		ExpectedVersion: req.ExpectedVersion,
		IdempotencyKey:  c.GetHeader(middleware.IdempotencyKeyHeader),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if result.Replayed {
		h.Success(c, result)
		return
	}
	h.Created(c, result)
}

// Rollback handles POST /allocations/rollback
func (h *AllocationHandler) Rollback(c *gin.Context) {
	var req allocationapp.RollbackAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	result, err := h.service.RollbackAllocation(c.Request.Context(), allocationapp.RollbackInput{
		BatchID:       req.BatchID,
		AllocationIDs: req.AllocationIDs,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// RunReconciliation handles POST /reconciliation/run
func (h *AllocationHandler) RunReconciliation(c *gin.Context) {
	report, err := h.service.RunReconciliation(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// ListHolds handles GET /integrity-holds
func (h *AllocationHandler) ListHolds(c *gin.Context) {
	holds, err := h.service.ListHolds(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, holds)
}

// ReleaseHold handles POST /integrity-holds/:id/release
func (h *AllocationHandler) ReleaseHold(c *gin.Context) {
	id, ok := h.ParseID(c, "id", "hold")
	if !ok {
		return
	}
	var req allocationapp.ReleaseHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.BindError(c, err)
		return
	}

	by := middleware.GetActor(c)
	if by == "" {
		by = req.ReleasedBy
	}
	if by == "" {
		h.BadRequest(c, "released_by is required")
		return
	}

	hold, err := h.service.ReleaseHold(c.Request.Context(), id, by)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, hold)
}
