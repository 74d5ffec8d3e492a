package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/erp/paymentalloc/internal/domain/shared"
	"github.com/erp/paymentalloc/internal/interfaces/http/dto"
	"github.com/erp/paymentalloc/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serveError(t *testing.T, err error) (*httptest.ResponseRecorder, dto.ErrorInfo) {
	t.Helper()
	h := &BaseHandler{}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.GET("/test", func(c *gin.Context) { h.HandleError(c, err) })

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp struct {
		Success bool          `json:"success"`
		Error   dto.ErrorInfo `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "req-1", resp.Error.RequestID)
	return w, resp.Error
}

func TestBaseHandlerSuccessWithMeta(t *testing.T) {
	h := &BaseHandler{}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	h.SuccessWithMeta(c, []string{"a", "b"}, 101, 2, 50)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(101), resp.Meta.Total)
	assert.Equal(t, 3, resp.Meta.TotalPages)
}

func TestBaseHandlerCreated(t *testing.T) {
	h := &BaseHandler{}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	h.Created(c, map[string]string{"id": "123"})

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHandleError_AllocationError(t *testing.T) {
	ref := allocation.ObligationRef{Type: allocation.ObligationTypeInvoice, ID: uuid.New()}
	ae := allocation.NewObligationNotFoundError(ref, 2)

	w, info := serveError(t, fmt.Errorf("commit: %w", ae))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", info.Code)
	assert.Equal(t, "INVOICE", info.Details["obligation_type"])
	assert.Equal(t, ref.ID.String(), info.Details["obligation_id"])
	assert.Equal(t, "2", info.Details["index"])
}

func TestHandleError_LockTimeoutIsRetryable(t *testing.T) {
	w, info := serveError(t, allocation.NewLockTimeoutError(errors.New("canceling statement due to lock timeout")))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "LOCK_TIMEOUT", info.Code)
	assert.True(t, info.Retryable)
}

func TestHandleError_DomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", shared.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
		{"duplicate request", shared.ErrDuplicateRequest, http.StatusConflict, "DUPLICATE_REQUEST"},
		{"payment date", shared.NewDomainError("INVALID_PAYMENT_DATE", "Payment date is required"), http.StatusBadRequest, "INVALID_PAYMENT_DATE"},
		{"wrapped not found", fmt.Errorf("lookup: %w", shared.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, info := serveError(t, tt.err)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, info.Code)
			assert.Empty(t, info.Details)
		})
	}
}

func TestHandleError_UnknownError(t *testing.T) {
	w, info := serveError(t, errors.New("pq: connection reset"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, dto.ErrCodeInternal, info.Code)
	assert.NotContains(t, info.Message, "pq")
}

func TestParseID(t *testing.T) {
	h := &BaseHandler{}
	router := gin.New()
	router.GET("/payments/:id", func(c *gin.Context) {
		id, ok := h.ParseID(c, "id", "payment")
		if !ok {
			return
		}
		c.String(http.StatusOK, id.String())
	})

	id := uuid.New()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/"+id.String(), nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id.String(), w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/42", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid payment ID format")
}
