package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/webstarter/internal/pool"
)

func newOpsFixture(t *testing.T) (*Pool, sqlmock.Sqlmock, *pool.WorkerPool) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	p, err := NewWithDB(db, PoolConfig{MaxSize: 4, MinIdle: 1, TestOnCheckout: false}, zap.NewNop())
	require.NoError(t, err)

	bridge := pool.NewWorkerPool(pool.WorkerPoolConfig{Workers: 4, QueueSize: 16}, zap.NewNop())

	t.Cleanup(func() {
		bridge.Close()
		p.Close()
	})
	return p, mock, bridge
}

func TestExecute_ReturnsQueryResult(t *testing.T) {
	p, mock, bridge := newOpsFixture(t)

	mock.ExpectQuery("SELECT name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("alice"))

	name, err := Execute(context.Background(), p, bridge, func(ctx context.Context, conn *sql.Conn) (string, error) {
		var name string
		row := conn.QueryRowContext(ctx, "SELECT name FROM users WHERE id = 1")
		return name, row.Scan(&name)
	})

	require.NoError(t, err)
	assert.Equal(t, "alice", name)
}

func TestExecute_PropagatesOperationError(t *testing.T) {
	p, mock, bridge := newOpsFixture(t)

	want := errors.New("relation does not exist")
	mock.ExpectQuery("SELECT").WillReturnError(want)

	_, err := Execute(context.Background(), p, bridge, func(ctx context.Context, conn *sql.Conn) (int, error) {
		var n int
		return n, conn.QueryRowContext(ctx, "SELECT count(*) FROM missing").Scan(&n)
	})

	assert.ErrorIs(t, err, want)
}

func TestExecute_ReleasesConnectionAfterUse(t *testing.T) {
	p, mock, bridge := newOpsFixture(t)

	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := Execute(context.Background(), p, bridge, func(ctx context.Context, conn *sql.Conn) (int64, error) {
		res, err := conn.ExecContext(ctx, "UPDATE users SET active = true")
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	})
	require.NoError(t, err)

	assert.Equal(t, 0, p.Stats().InUse)
}

func TestExecute_ReturnsEarlyOnCallerContext(t *testing.T) {
	p, _, bridge := newOpsFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	started := make(chan struct{})
	finished := make(chan struct{})

	_, err := Execute(ctx, p, bridge, func(taskCtx context.Context, conn *sql.Conn) (int, error) {
		close(started)
		time.Sleep(80 * time.Millisecond)
		close(finished)
		return 0, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 已派发的操作继续执行并归还连接
	<-started
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("abandoned operation did not run to completion")
	}
	assert.Eventually(t, func() bool { return p.Stats().InUse == 0 }, time.Second, 5*time.Millisecond)
}

func TestExecute_PanicReleasesConnection(t *testing.T) {
	p, _, bridge := newOpsFixture(t)

	_, err := Execute(context.Background(), p, bridge, func(ctx context.Context, conn *sql.Conn) (int, error) {
		panic("unexpected driver state")
	})

	assert.ErrorIs(t, err, pool.ErrTaskAborted)
	assert.Eventually(t, func() bool { return p.Stats().InUse == 0 }, time.Second, 5*time.Millisecond)
}

func TestTransaction_CommitsOnSuccess(t *testing.T) {
	p, mock, bridge := newOpsFixture(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	id, err := Transaction(context.Background(), p, bridge, func(ctx context.Context, tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, "INSERT INTO users (name) VALUES ('bob')")
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	})

	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransaction_RollsBackAndPreservesError(t *testing.T) {
	p, mock, bridge := newOpsFixture(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	want := errors.New("balance would go negative")
	_, err := Transaction(context.Background(), p, bridge, func(ctx context.Context, tx *sql.Tx) (int, error) {
		return 0, want
	})

	assert.ErrorIs(t, err, want)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransaction_RollbackOnQueryError(t *testing.T) {
	p, mock, bridge := newOpsFixture(t)

	want := errors.New("syntax error")
	mock.ExpectBegin()
	mock.ExpectExec("DELETE").WillReturnError(want)
	mock.ExpectRollback()

	_, err := Transaction(context.Background(), p, bridge, func(ctx context.Context, tx *sql.Tx) (int, error) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM users"); err != nil {
			return 0, err
		}
		return 0, nil
	})

	assert.ErrorIs(t, err, want)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransaction_PanicRollsBackBeforeReleasing(t *testing.T) {
	p, mock, bridge := newOpsFixture(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := Transaction(context.Background(), p, bridge, func(ctx context.Context, tx *sql.Tx) (int, error) {
		panic("constraint checker corrupted")
	})

	// 事务在连接归还前被回滚,后续取出该连接的操作不会落进残留事务
	assert.ErrorIs(t, err, pool.ErrTaskAborted)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Eventually(t, func() bool { return p.Stats().InUse == 0 }, time.Second, 5*time.Millisecond)
}

func TestHealthCheck(t *testing.T) {
	p, mock, bridge := newOpsFixture(t)

	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	assert.NoError(t, HealthCheck(context.Background(), p, bridge))
}
