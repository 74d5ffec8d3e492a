package allocation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestErrorDetails(t *testing.T) {
	t.Run("joins failed allocation ids", func(t *testing.T) {
		a, b := idN(1), idN(2)
		e := NewError(KindNotFound, "no allocation found")
		e.Failed = []uuid.UUID{a, b}

		assert.Equal(t, a.String()+","+b.String(), e.Details()["failed_allocation_ids"])
		assert.NotContains(t, e.Details(), "index")
	})

	t.Run("single failed id has no separator", func(t *testing.T) {
		a := idN(3)
		e := NewError(KindPartialRollbackFailure, "rollback incomplete")
		e.Failed = []uuid.UUID{a}

		assert.Equal(t, a.String(), e.Details()["failed_allocation_ids"])
	})

	t.Run("over allocation carries excess", func(t *testing.T) {
		e := newOverAllocationError(dec("350"), dec("200"))
		d := e.Details()
		assert.Equal(t, "150.00", d["excess"])
		assert.Equal(t, "200.00", d["available"])
	})
}
