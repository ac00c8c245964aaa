package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/BaSui01/webstarter/internal/pool"
)

// =============================================================================
// ⚙️ 数据库操作入口
// =============================================================================

// outcome 带值的任务结果
type outcome[T any] struct {
	value T
	err   error
}

// Execute 在工作池上执行一次数据库操作:取出连接、运行 fn、归还连接,
// 全程不占用调用方协程。调用方上下文结束时提前返回,但已派发的操作
// 会继续跑完并自行归还连接。
func Execute[T any](ctx context.Context, p *Pool, bridge *pool.WorkerPool, fn func(ctx context.Context, conn *sql.Conn) (T, error)) (T, error) {
	var zero T

	out := make(chan outcome[T], 1)
	result, err := bridge.Dispatch(ctx, func(taskCtx context.Context) error {
		pc, err := p.Checkout(taskCtx)
		if err != nil {
			out <- outcome[T]{err: err}
			return err
		}
		// fn panic 时也要归还连接;操作失败不代表连接损坏,
		// 坏连接由取出探活剔除
		defer p.Release(pc)

		v, err := fn(taskCtx, pc.Conn())
		out <- outcome[T]{value: v, err: err}
		return err
	})
	if err != nil {
		return zero, err
	}

	select {
	case o := <-out:
		return o.value, o.err
	case err := <-result:
		// 任务结束却没有产出结果:fn panic 被工作池转换为 aborted 错误。
		// 正常完成时 out 先于 result 写入,这里优先取结果值。
		select {
		case o := <-out:
			return o.value, o.err
		default:
			return zero, err
		}
	case <-ctx.Done():
		// 任务继续执行,结果被丢弃
		go func() { <-result }()
		return zero, ctx.Err()
	}
}

// Transaction 在工作池上执行一个事务:BeginTx、运行 fn、按结果提交或
// 回滚。fn 返回错误时回滚并原样返回该错误;回滚自身的失败只追加记录,
// 不覆盖原错误。
func Transaction[T any](ctx context.Context, p *Pool, bridge *pool.WorkerPool, fn func(ctx context.Context, tx *sql.Tx) (T, error)) (T, error) {
	return Execute(ctx, p, bridge, func(taskCtx context.Context, conn *sql.Conn) (T, error) {
		var zero T

		tx, err := conn.BeginTx(taskCtx, nil)
		if err != nil {
			return zero, fmt.Errorf("begin transaction: %w", err)
		}
		// fn panic 时兜底回滚,连接不能带着未结事务回到空闲队列;
		// 提交或显式回滚之后这里只会收到 ErrTxDone
		defer func() { _ = tx.Rollback() }()

		v, err := fn(taskCtx, tx)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				return zero, errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return zero, err
		}

		if err := tx.Commit(); err != nil {
			return zero, fmt.Errorf("commit transaction: %w", err)
		}
		return v, nil
	})
}

// HealthCheck 通过工作池执行 SELECT 1 验证数据库可用。
func HealthCheck(ctx context.Context, p *Pool, bridge *pool.WorkerPool) error {
	_, err := Execute(ctx, p, bridge, func(taskCtx context.Context, conn *sql.Conn) (int, error) {
		var one int
		row := conn.QueryRowContext(taskCtx, "SELECT 1")
		if err := row.Scan(&one); err != nil {
			return 0, err
		}
		return one, nil
	})
	return err
}
