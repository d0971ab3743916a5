package storage

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootline-io/rootline/internal/history"
)

// mockCleanupDriver is a minimal SQL driver that counts statement executions.
// Used by retention tests to verify cleanup behavior without a real database.
type mockCleanupDriver struct {
	count *atomic.Int64
}

func (d *mockCleanupDriver) Open(_ string) (driver.Conn, error) {
	return &mockCleanupConn{count: d.count}, nil
}

type mockCleanupConn struct {
	count *atomic.Int64
}

func (c *mockCleanupConn) Prepare(_ string) (driver.Stmt, error) {
	return &mockCleanupStmt{count: c.count}, nil
}

func (c *mockCleanupConn) Close() error              { return nil }
func (c *mockCleanupConn) Begin() (driver.Tx, error) { return &mockCleanupTx{}, nil }

type mockCleanupStmt struct {
	count *atomic.Int64
}

func (s *mockCleanupStmt) Close() error { return nil }

// NumInput returns -1 so database/sql skips argument count validation;
// the cleanup and outcome queries carry bind parameters.
func (s *mockCleanupStmt) NumInput() int { return -1 }

func (s *mockCleanupStmt) Exec(_ []driver.Value) (driver.Result, error) {
	s.count.Add(1)

	return driver.RowsAffected(0), nil
}

func (s *mockCleanupStmt) Query(_ []driver.Value) (driver.Rows, error) {
	s.count.Add(1)

	return &mockCleanupRows{}, nil
}

type mockCleanupTx struct{}

func (t *mockCleanupTx) Commit() error   { return nil }
func (t *mockCleanupTx) Rollback() error { return nil }

type mockCleanupRows struct{ done bool }

func (r *mockCleanupRows) Columns() []string { return []string{"result"} }
func (r *mockCleanupRows) Close() error      { return nil }

func (r *mockCleanupRows) Next(dest []driver.Value) error {
	if r.done {
		return sql.ErrNoRows
	}

	r.done = true
	dest[0] = ""

	return nil
}

// newMockCleanupConnection creates a *Connection backed by the mock driver.
func newMockCleanupConnection(t *testing.T, count *atomic.Int64) *Connection {
	t.Helper()

	driverName := fmt.Sprintf("mock_cleanup_%s_%d", t.Name(), time.Now().UnixNano())
	sql.Register(driverName, &mockCleanupDriver{count: count})

	db, err := sql.Open(driverName, "")
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return &Connection{DB: db}
}

func TestNewHistoryStore_Validation(t *testing.T) {
	var count atomic.Int64

	conn := newMockCleanupConnection(t, &count)

	t.Run("nil connection", func(t *testing.T) {
		store, err := NewHistoryStore(nil, 0, time.Hour)

		require.ErrorIs(t, err, ErrNoDatabaseConnection)
		assert.Nil(t, store)
	})

	t.Run("zero cleanup interval", func(t *testing.T) {
		store, err := NewHistoryStore(conn, time.Hour, 0)

		require.ErrorIs(t, err, ErrInvalidCleanupInterval)
		assert.Nil(t, store)
	})

	t.Run("negative retention", func(t *testing.T) {
		store, err := NewHistoryStore(conn, -time.Hour, time.Hour)

		require.ErrorIs(t, err, ErrNegativeRetention)
		assert.Nil(t, store)
	})
}

// TestHistoryStore_ZeroRetentionSkipsCleanup verifies that a zero retention
// starts no cleanup goroutine and Close returns immediately.
func TestHistoryStore_ZeroRetentionSkipsCleanup(t *testing.T) {
	var count atomic.Int64

	conn := newMockCleanupConnection(t, &count)

	store, err := NewHistoryStore(conn, 0, 10*time.Millisecond)
	require.NoError(t, err)

	// Even with a tiny interval, no ticks should fire
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, int64(0), count.Load(),
		"zero retention should run no cleanup queries")

	start := time.Now()
	require.NoError(t, store.Close())
	assert.Less(t, time.Since(start), time.Second,
		"Close() should not wait on a goroutine that never started")
}

// TestHistoryStore_CleanupRunsOnInterval verifies the retention goroutine
// issues delete batches on its ticker.
func TestHistoryStore_CleanupRunsOnInterval(t *testing.T) {
	var count atomic.Int64

	conn := newMockCleanupConnection(t, &count)

	store, err := NewHistoryStore(conn, time.Hour, 20*time.Millisecond)
	require.NoError(t, err)

	defer func() { _ = store.Close() }()

	// The mock reports 0 rows deleted, so each tick issues exactly one batch
	require.Eventually(t, func() bool {
		return count.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond, "cleanup should run at least once")
}

// TestHistoryStore_CloseStopsCleanup verifies no batches run after Close.
func TestHistoryStore_CloseStopsCleanup(t *testing.T) {
	var count atomic.Int64

	conn := newMockCleanupConnection(t, &count)

	store, err := NewHistoryStore(conn, time.Hour, 20*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, store.Close())

	after := count.Load()

	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, after, count.Load(), "no cleanup batches should run after Close")
}

func TestHistoryStore_CloseIdempotent(t *testing.T) {
	var count atomic.Int64

	conn := newMockCleanupConnection(t, &count)

	store, err := NewHistoryStore(conn, time.Hour, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}

func TestHistoryStore_RecordOutcomeValidation(t *testing.T) {
	var count atomic.Int64

	conn := newMockCleanupConnection(t, &count)

	store, err := NewHistoryStore(conn, 0, time.Hour)
	require.NoError(t, err)

	defer func() { _ = store.Close() }()

	ctx := t.Context()

	t.Run("missing incident ID", func(t *testing.T) {
		err := store.RecordOutcome(ctx, history.Outcome{ComponentID: "db-primary"})

		require.ErrorIs(t, err, ErrOutcomeIncidentEmpty)
	})

	t.Run("missing component ID", func(t *testing.T) {
		err := store.RecordOutcome(ctx, history.Outcome{IncidentID: "incident-1"})

		require.ErrorIs(t, err, ErrOutcomeComponentEmpty)
	})

	t.Run("valid outcome writes one row", func(t *testing.T) {
		before := count.Load()

		err := store.RecordOutcome(ctx, history.Outcome{
			IncidentID:  "incident-1",
			ComponentID: "db-primary",
			Pattern:     "ConnectionsSaturated",
			Confirmed:   true,
			FixRef:      "https://runbooks.example.com/db/connections",
			OccurredAt:  time.Now().UTC(),
		})

		require.NoError(t, err)
		assert.Equal(t, before+1, count.Load())
	})
}

func TestHistoryStore_HealthCheckNilConnection(t *testing.T) {
	store := &HistoryStore{}

	err := store.HealthCheck(t.Context())

	require.ErrorIs(t, err, ErrNoDatabaseConnection)
}
