package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpExtractsPgxFields(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "ux_offline_order_sync_events_business_client",
		TableName:      "offline_order_sync_events",
		Message:        "duplicate key value violates unique constraint",
	}
	err := Wrap(CodeDependency, fmt.Errorf("insert sync event: %w", pgErr), "recording sync outcome")

	d := Dump(err)
	assert.Equal(t, CodeDependency, d.Code)
	assert.True(t, d.Retryable)
	require.NotNil(t, d.PG)
	assert.Equal(t, "23505", d.PG.Code)
	assert.Equal(t, "offline_order_sync_events", d.PG.Table)
	assert.Equal(t, "ux_offline_order_sync_events_business_client", d.PG.Constraint)
	require.NotEmpty(t, d.Chain)

	fields := d.Fields()
	assert.Equal(t, "23505", fields["pg_code"])
	assert.Equal(t, CodeDependency, fields["error_code"])
}

func TestDumpExtractsPqFields(t *testing.T) {
	err := fmt.Errorf("write ledger: %w", &pq.Error{Code: "23514", Table: "ledger_entries", Message: "check violation"})

	d := Dump(err)
	require.NotNil(t, d.PG)
	assert.Equal(t, "23514", d.PG.Code)
	assert.Equal(t, "ledger_entries", d.PG.Table)
	assert.Empty(t, d.Code)
	assert.False(t, d.Retryable)
}

func TestDumpWithoutDriverErrorOmitsPostgresFields(t *testing.T) {
	d := Dump(New(CodeStateConflict, "order already refunded"))
	assert.Nil(t, d.PG)
	_, ok := d.Fields()["pg_code"]
	assert.False(t, ok)
}

func TestDumpNil(t *testing.T) {
	assert.Equal(t, ErrorDump{}, Dump(nil))
}
