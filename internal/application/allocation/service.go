package allocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/erp/paymentalloc/internal/domain/shared"
	"github.com/erp/paymentalloc/internal/infrastructure/cache"
	"github.com/erp/paymentalloc/internal/infrastructure/logger"
	"github.com/erp/paymentalloc/internal/infrastructure/telemetry"
	"github.com/erp/paymentalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const reconcileJob = "reconcile"

// ErrReconcileInProgress is returned when another reconciliation run holds the job lock
var ErrReconcileInProgress = shared.NewDomainError("RECONCILE_IN_PROGRESS", "A reconciliation run is already in progress")

// ErrIdempotencyKeyReused is returned when a completed idempotency key is
// presented again with different allocation lines
var ErrIdempotencyKeyReused = shared.NewDomainError("DUPLICATE_REQUEST", "Idempotency key was already used with different allocation lines")

// Config holds the service's tunables
type Config struct {
	DefaultStrategy   allocation.Strategy
	RequestTimeout    time.Duration
	IdempotencyTTL    time.Duration
	ReconcileLockTTL  time.Duration
	HoldOnDiscrepancy bool
}

// Deps are the collaborators the service orchestrates
type Deps struct {
	Payments    allocation.PaymentRepository
	Obligations allocation.ObligationSource
	Allocator   allocation.Allocator
	Compensator allocation.Compensator
	Ledger      allocation.Ledger
	Holds       allocation.HoldRepository
	Idempotency shared.IdempotencyStore
	JobLock     cache.JobLock
	// Metrics may be nil.
	Metrics *telemetry.AllocationMetrics
}

// Service exposes the allocation engine to the HTTP layer and jobs
type Service struct {
	payments    allocation.PaymentRepository
	obligations allocation.ObligationSource
	allocator   allocation.Allocator
	compensator allocation.Compensator
	ledger      allocation.Ledger
	holds       allocation.HoldRepository
	idempotency shared.IdempotencyStore
	jobLock     cache.JobLock
	metrics     *telemetry.AllocationMetrics
	cfg         Config
}

// NewService creates a new allocation Service
func NewService(deps Deps, cfg Config) *Service {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = allocation.StrategyOpeningFirst
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.ReconcileLockTTL <= 0 {
		cfg.ReconcileLockTTL = 10 * time.Minute
	}
	return &Service{
		payments:    deps.Payments,
		obligations: deps.Obligations,
		allocator:   deps.Allocator,
		compensator: deps.Compensator,
		ledger:      deps.Ledger,
		holds:       deps.Holds,
		idempotency: deps.Idempotency,
		jobLock:     deps.JobLock,
		metrics:     deps.Metrics,
		cfg:         cfg,
	}
}

// RecordPayment records a received payment with its full amount unapplied
func (s *Service) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "record_payment",
		telemetry.SpanAttrCustomerID, req.CustomerID.String(),
		telemetry.SpanAttrAmount, req.Amount,
	)
	defer span.End()

	payment, err := allocation.NewPayment(req.CustomerID, req.Amount, req.PaymentDate, allocation.PaymentMethod(req.PaymentMethod), req.Reference)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	logger.L(logger.WithPaymentID(ctx, payment.ID.String())).Info("payment recorded",
		zap.String("customer_id", payment.CustomerID.String()),
		zap.String("amount", money(payment.Amount)),
	)
	resp := ToPaymentResponse(payment)
	return &resp, nil
}

// GetPayment returns one payment
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*PaymentResponse, error) {
	payment, err := s.payments.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToPaymentResponse(payment)
	return &resp, nil
}

// VoidPayment soft-voids a payment that has nothing allocated
func (s *Service) VoidPayment(ctx context.Context, id uuid.UUID, reason string) (*PaymentResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "void_payment", telemetry.SpanAttrPaymentID, id.String())
	defer span.End()

	payment, err := s.payments.Void(ctx, id, reason)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	logger.L(logger.WithPaymentID(ctx, id.String())).Info("payment voided", zap.String("reason", payment.VoidReason))
	resp := ToPaymentResponse(payment)
	return &resp, nil
}

// ListPaymentAllocations returns the allocation rows of a payment
func (s *Service) ListPaymentAllocations(ctx context.Context, paymentID uuid.UUID) ([]AllocationResponse, error) {
	if _, err := s.payments.FindByID(ctx, paymentID); err != nil {
		return nil, err
	}
	allocs, err := s.payments.ListAllocations(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return ToAllocationResponses(allocs), nil
}

// ListUnappliedPayments lists payments with open credit, oldest first
func (s *Service) ListUnappliedPayments(ctx context.Context, customerID *uuid.UUID, filter shared.Filter) (shared.Paginated[PaymentResponse], error) {
	if filter.PageSize <= 0 {
		filter = shared.DefaultFilter()
	}
	items, total, err := s.ledger.ListUnapplied(ctx, allocation.UnappliedFilter{Filter: filter, CustomerID: customerID})
	if err != nil {
		return shared.Paginated[PaymentResponse]{}, err
	}
	return shared.NewPaginated(ToPaymentResponses(items), total, filter.Page, filter.PageSize), nil
}

// GetUnappliedStats sums open credit for dashboards
func (s *Service) GetUnappliedStats(ctx context.Context) (*StatsResponse, error) {
	stats, err := s.ledger.UnappliedStats(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsResponse{
		TotalAmount:    money(stats.TotalAmount),
		TotalCount:     stats.TotalCount,
		CustomersCount: stats.CustomersCount,
	}, nil
}

// ListObligations returns a customer's outstanding obligations
func (s *Service) ListObligations(ctx context.Context, customerID uuid.UUID) (*CustomerObligationsResponse, error) {
	obs, err := s.obligations.ListObligations(ctx, customerID)
	if err != nil {
		return nil, err
	}
	resp := ToCustomerObligationsResponse(obs)
	return &resp, nil
}

// ProposeAllocation builds a proposal for the payment's unapplied amount.
// Nothing is written; the proposal is re-checked on commit.
func (s *Service) ProposeAllocation(ctx context.Context, paymentID uuid.UUID, strategy string) (*ProposalResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "propose", telemetry.SpanAttrPaymentID, paymentID.String())
	defer span.End()

	st, err := allocation.ParseStrategy(strategy, s.cfg.DefaultStrategy)
	if err != nil {
		return nil, s.fail(ctx, span, "propose", err)
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrStrategy, st.String())

	payment, err := s.openPayment(ctx, paymentID)
	if err != nil {
		return nil, s.fail(ctx, span, "propose", err)
	}
	obs, err := s.obligations.ListObligations(ctx, payment.CustomerID)
	if err != nil {
		return nil, s.fail(ctx, span, "propose", err)
	}

	all := obs.All()
	lines, err := allocation.Propose(payment.AmountUnapplied, all, st)
	if err != nil {
		return nil, s.fail(ctx, span, "propose", err)
	}
	// An empty proposal is legal output. Anything else must validate
	// against its own inputs.
	if len(lines) > 0 {
		if res := allocation.Validate(payment.AmountUnapplied, lines, obs.RemainingByRef()); !res.Valid {
			return nil, s.fail(ctx, span, "propose", fmt.Errorf("proposal failed validation: %w", res.Err()))
		}
	}
	s.metrics.RecordProposal(ctx, st.String())

	labels := make(map[allocation.ObligationRef]string, len(all))
	for _, o := range all {
		labels[o.Ref()] = o.Label()
	}
	resp := &ProposalResponse{
		PaymentID:      payment.ID,
		Strategy:       st.String(),
		PaymentVersion: payment.Version,
		Available:      money(payment.AmountUnapplied),
		Lines:          make([]LineResponse, len(lines)),
		TotalAllocated: money(allocation.TotalOf(lines)),
		UnappliedAfter: money(payment.AmountUnapplied.Sub(allocation.TotalOf(lines))),
	}
	for i, l := range lines {
		resp.Lines[i] = LineResponse{
			ObligationType: string(l.Ref.Type),
			ObligationID:   l.Ref.ID,
			Label:          labels[l.Ref],
			Amount:         money(l.Amount),
		}
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrLineCount, len(lines))
	return resp, nil
}

// ValidateAllocation checks lines against current state without locking.
// Validation failures are reported in the response, not as an error.
func (s *Service) ValidateAllocation(ctx context.Context, paymentID uuid.UUID, lines []allocation.Line) (*ValidationResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "validate",
		telemetry.SpanAttrPaymentID, paymentID.String(),
		telemetry.SpanAttrLineCount, len(lines),
	)
	defer span.End()

	payment, err := s.openPayment(ctx, paymentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	refs := make([]allocation.ObligationRef, len(lines))
	for i, l := range lines {
		refs[i] = l.Ref
	}
	found, err := s.obligations.FindObligations(ctx, refs)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	res := allocation.Validate(payment.AmountUnapplied, lines, remainingFor(payment.CustomerID, found))
	if !res.Valid {
		return &ValidationResponse{
			Valid:          false,
			TotalAllocated: money(allocation.TotalOf(lines)),
			Error: &ValidationErrorResponse{
				Code:    string(res.Error.Kind),
				Message: res.Error.Message,
				Details: res.Error.Details(),
			},
		}, nil
	}
	return &ValidationResponse{
		Valid:          true,
		TotalAllocated: money(res.TotalAllocated),
		UnappliedAfter: money(res.UnappliedAfter),
	}, nil
}

// CommitAllocation applies lines to the payment in one locked transaction.
// With an idempotency key a retried call replays the first success, and a
// call racing an in-flight one with the same key gets DUPLICATE_REQUEST.
func (s *Service) CommitAllocation(ctx context.Context, in CommitInput) (*CommitResponse, error) {
	ctx = logger.WithPaymentID(ctx, in.PaymentID.String())
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "commit",
		telemetry.SpanAttrPaymentID, in.PaymentID.String(),
		telemetry.SpanAttrLineCount, len(in.Lines),
	)
	defer span.End()

	var key, fingerprint string
	if in.IdempotencyKey != "" {
		key = commitKey(in.PaymentID, in.IdempotencyKey)
		fingerprint = commitFingerprint(in)
		telemetry.SetAttributes(span, telemetry.SpanAttrIdempotencyKey, in.IdempotencyKey)
		replay, err := s.reserve(ctx, key, fingerprint)
		if err != nil {
			return nil, s.fail(ctx, span, "allocate", err)
		}
		if replay != nil {
			telemetry.AddEvent(span, "idempotent_replay")
			logger.L(ctx).Info("allocation replayed from idempotency store", zap.String("batch_id", replay.BatchID.String()))
			return replay, nil
		}
	}

	txCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := s.allocator.Allocate(txCtx, allocation.AllocateCommand{
		PaymentID:       in.PaymentID,
		Lines:           in.Lines,
		ExpectedVersion: in.ExpectedVersion,
	})
	if err != nil {
		if key != "" {
			s.release(ctx, key)
		}
		logger.L(ctx).Warn("allocation rejected", zap.Error(err))
		return nil, s.fail(ctx, span, "allocate", err)
	}

	total := allocation.TotalOf(in.Lines)
	s.metrics.RecordCommit(ctx, total, time.Since(start))
	telemetry.SetAttributes(span,
		telemetry.SpanAttrBatchID, res.BatchID.String(),
		telemetry.SpanAttrAmount, total,
	)

	resp := ToCommitResponse(res)
	if key != "" {
		s.complete(ctx, key, fingerprint, resp)
	}
	logger.L(ctx).Info("allocation committed",
		zap.String("batch_id", res.BatchID.String()),
		zap.String("amount", money(total)),
		zap.String("amount_unapplied", money(res.Payment.AmountUnapplied)),
	)
	return resp, nil
}

// RollbackAllocation reverses a batch or explicit allocation ids
// all-or-nothing. A rollback that would break a balance invariant is
// logged as an integrity incident and freezes the records involved.
func (s *Service) RollbackAllocation(ctx context.Context, in RollbackInput) (*RollbackResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "rollback", telemetry.SpanAttrLineCount, len(in.AllocationIDs))
	defer span.End()
	if in.BatchID != nil {
		telemetry.SetAttributes(span, telemetry.SpanAttrBatchID, in.BatchID.String())
	}

	txCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := s.compensator.Rollback(txCtx, allocation.RollbackSelector{
		BatchID:       in.BatchID,
		AllocationIDs: in.AllocationIDs,
	})
	if err != nil {
		if ae, ok := allocation.AsError(err); ok && ae.Kind == allocation.KindPartialRollbackFailure {
			s.reportPartialRollback(ctx, ae)
		}
		return nil, s.fail(ctx, span, "rollback", err)
	}

	if len(res.Reversed) > 0 {
		s.metrics.RecordRollback(ctx, res.Amount, time.Since(start))
		logger.L(ctx).Info("allocations reversed",
			zap.Int("reversed", len(res.Reversed)),
			zap.Int("skipped", len(res.Skipped)),
			zap.String("amount", money(res.Amount)),
		)
	}
	return ToRollbackResponse(res), nil
}

// RunReconciliation recomputes every counter from allocation rows. At most
// one run executes at a time across instances.
func (s *Service) RunReconciliation(ctx context.Context) (*ReconciliationResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "reconcile")
	defer span.End()

	var report *allocation.ReconciliationReport
	err := s.jobLock.RunExclusive(ctx, reconcileJob, s.cfg.ReconcileLockTTL, func(ctx context.Context) error {
		var err error
		report, err = s.ledger.Reconcile(ctx)
		if err != nil {
			return err
		}
		if report.Consistent() {
			return nil
		}

		s.metrics.RecordDiscrepancies(ctx, len(report.Discrepancies))
		for _, d := range report.Discrepancies {
			logger.L(ctx).Error("ledger discrepancy",
				zap.Bool("integrity_incident", true),
				zap.String("kind", string(d.Kind)),
				zap.String("subject_type", string(d.SubjectType)),
				zap.String("subject_id", d.SubjectID.String()),
				zap.String("stored", money(d.Stored)),
				zap.String("recomputed", money(d.Recomputed)),
			)
		}
		if !s.cfg.HoldOnDiscrepancy {
			return nil
		}
		holds := make([]*allocation.IntegrityHold, 0, len(report.Discrepancies))
		for _, d := range report.Discrepancies {
			detail := fmt.Sprintf("%s: stored %s, recomputed %s", d.Kind, money(d.Stored), money(d.Recomputed))
			holds = append(holds, allocation.NewIntegrityHold(d.SubjectType, d.SubjectID, allocation.HoldReasonReconciliationMismatch, detail))
		}
		report.HoldsPlaced, err = s.holds.Place(ctx, holds...)
		return err
	})
	if errors.Is(err, cache.ErrLockHeld) {
		return nil, ErrReconcileInProgress
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrDiscrepancies, len(report.Discrepancies))
	logger.L(ctx).Info("reconciliation finished",
		zap.Int64("payments_checked", report.PaymentsChecked),
		zap.Int64("obligations_checked", report.ObligationsChecked),
		zap.Int("discrepancies", len(report.Discrepancies)),
		zap.Int("holds_placed", report.HoldsPlaced),
	)
	return ToReconciliationResponse(report), nil
}

// ListHolds returns active integrity holds
func (s *Service) ListHolds(ctx context.Context) ([]HoldResponse, error) {
	holds, err := s.holds.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]HoldResponse, len(holds))
	for i, h := range holds {
		out[i] = ToHoldResponse(h)
	}
	return out, nil
}

// ReleaseHold clears an integrity hold after review
func (s *Service) ReleaseHold(ctx context.Context, id uuid.UUID, by string) (*HoldResponse, error) {
	h, err := s.holds.Release(ctx, id, by)
	if err != nil {
		return nil, err
	}
	logger.L(ctx).Warn("integrity hold released",
		zap.String("hold_id", h.ID.String()),
		zap.String("subject_type", string(h.SubjectType)),
		zap.String("subject_id", h.SubjectID.String()),
		zap.String("released_by", h.ReleasedBy),
	)
	resp := ToHoldResponse(h)
	return &resp, nil
}

// openPayment loads a payment that can still take allocations
func (s *Service) openPayment(ctx context.Context, id uuid.UUID) (*allocation.Payment, error) {
	payment, err := s.payments.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.IsVoided() {
		e := allocation.NewError(allocation.KindInvalidState, fmt.Sprintf("payment %s is voided", id))
		e.PaymentID = &payment.ID
		return nil, e
	}
	return payment, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}

// fail records err on the span and the failure counter
func (s *Service) fail(ctx context.Context, span trace.Span, op string, err error) error {
	telemetry.RecordError(span, err)
	kind := "INTERNAL"
	if ae, ok := allocation.AsError(err); ok {
		kind = string(ae.Kind)
	} else {
		var de *shared.DomainError
		if errors.As(err, &de) {
			kind = de.Code
		}
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrErrorKind, kind)
	s.metrics.RecordFailure(ctx, op, kind)
	return err
}

// reportPartialRollback logs the incident and freezes the records involved
func (s *Service) reportPartialRollback(ctx context.Context, ae *allocation.Error) {
	failed := make([]string, len(ae.Failed))
	for i, id := range ae.Failed {
		failed[i] = id.String()
	}
	logger.L(ctx).Error("rollback would break a balance invariant",
		zap.Bool("integrity_incident", true),
		zap.Strings("failed_allocation_ids", failed),
		zap.String("requested", money(ae.Requested)),
		zap.String("available", money(ae.Available)),
	)

	var holds []*allocation.IntegrityHold
	if ae.PaymentID != nil {
		holds = append(holds, allocation.NewIntegrityHold(allocation.HoldSubjectPayment, *ae.PaymentID, allocation.HoldReasonPartialRollback, ae.Message))
	}
	if ae.Ref != nil {
		holds = append(holds, allocation.NewIntegrityHold(allocation.HoldSubjectFor(ae.Ref.Type), ae.Ref.ID, allocation.HoldReasonPartialRollback, ae.Message))
	}
	if len(holds) == 0 {
		return
	}
	if _, err := s.holds.Place(context.WithoutCancel(ctx), holds...); err != nil {
		logger.L(ctx).Error("failed to place integrity holds", zap.Bool("integrity_incident", true), zap.Error(err))
	}
}

// remainingFor keeps only the customer's own obligations, so a foreign
// target validates as unknown.
func remainingFor(customerID uuid.UUID, obs []allocation.Obligation) map[allocation.ObligationRef]decimal.Decimal {
	out := make(map[allocation.ObligationRef]decimal.Decimal, len(obs))
	for _, o := range obs {
		if o.Customer() == customerID {
			out[o.Ref()] = o.Remaining()
		}
	}
	return out
}

func commitKey(paymentID uuid.UUID, key string) string {
	return "commit:" + paymentID.String() + ":" + key
}

// storedCommit is what the idempotency store keeps for a completed commit
type storedCommit struct {
	Fingerprint string          `json:"fingerprint"`
	Response    *CommitResponse `json:"response"`
}

// commitFingerprint identifies the request body a key was first used with
func commitFingerprint(in CommitInput) string {
	h := sha256.New()
	for _, l := range in.Lines {
		fmt.Fprintf(h, "%s:%s:%s\n", l.Ref.Type, l.Ref.ID, l.Amount.StringFixed(valueobject.MinorUnitPlaces))
	}
	if in.ExpectedVersion != nil {
		fmt.Fprintf(h, "version:%d\n", *in.ExpectedVersion)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// reserve claims key. It returns the stored response when the key already
// completed for the same lines, and DUPLICATE_REQUEST while another call
// still holds it or when the lines differ.
func (s *Service) reserve(ctx context.Context, key, fingerprint string) (*CommitResponse, error) {
	ok, err := s.idempotency.Reserve(ctx, key, s.cfg.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}
	stored, found, err := s.idempotency.Lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if !found || stored == nil {
		return nil, shared.ErrDuplicateRequest
	}
	var rec storedCommit
	if err := json.Unmarshal(stored, &rec); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	if rec.Fingerprint != fingerprint || rec.Response == nil {
		return nil, ErrIdempotencyKeyReused
	}
	rec.Response.Replayed = true
	return rec.Response, nil
}

func (s *Service) complete(ctx context.Context, key, fingerprint string, resp *CommitResponse) {
	data, err := json.Marshal(storedCommit{Fingerprint: fingerprint, Response: resp})
	if err == nil {
		err = s.idempotency.Complete(context.WithoutCancel(ctx), key, data, s.cfg.IdempotencyTTL)
	}
	if err != nil {
		logger.L(ctx).Warn("failed to store idempotent response", zap.Error(err))
	}
}

func (s *Service) release(ctx context.Context, key string) {
	if err := s.idempotency.Release(context.WithoutCancel(ctx), key); err != nil {
		logger.L(ctx).Warn("failed to release idempotency key", zap.Error(err))
	}
}
