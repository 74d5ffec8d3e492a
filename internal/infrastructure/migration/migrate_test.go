package migration

import (
	"io"
	"testing"

	"github.com/erp/paymentalloc/migrations"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestEmbeddedMigrations(t *testing.T) {
	src, err := iofs.New(migrations.FS, ".")
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	up, name, err := src.ReadUp(first)
	require.NoError(t, err)
	defer up.Close()
	assert.Equal(t, "allocation_schema", name)

	body, err := io.ReadAll(up)
	require.NoError(t, err)
	for _, table := range []string{"payments", "invoices", "opening_balances", "credit_sales", "payment_allocations", "integrity_holds"} {
		assert.Contains(t, string(body), "CREATE TABLE "+table+" (")
	}

	down, _, err := src.ReadDown(first)
	require.NoError(t, err)
	down.Close()
}

func TestMigrateLogger(t *testing.T) {
	t.Run("forwards printf output at debug", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		l := &migrateLogger{logger: zap.New(core)}

		assert.True(t, l.Verbose())
		l.Printf("applied %d/u %s", 1, "allocation_schema")

		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "applied 1/u allocation_schema", logs.All()[0].Message)
	})

	t.Run("not verbose above debug", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		l := &migrateLogger{logger: zap.New(core)}

		assert.False(t, l.Verbose())
		l.Printf("ignored")
		assert.Zero(t, logs.Len())
	})
}
