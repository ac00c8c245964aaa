package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/webstarter/types"

	_ "github.com/jackc/pgx/v5/stdlib" // 注册 "pgx" 驱动
	_ "modernc.org/sqlite"             // 注册 "sqlite" 驱动
)

// =============================================================================
// 🗄️ 数据库连接池
// =============================================================================

var (
	// ErrPoolClosed 连接池已关闭
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrCheckoutTimeout 在 ConnectionTimeout 内未能取得连接
	ErrCheckoutTimeout = types.NewError(types.ErrPoolTimeout, "connection checkout timed out")
)

// PoolConfig 连接池配置
type PoolConfig struct {
	// 连接总数上限
	MaxSize int `yaml:"max_size" json:"max_size"`

	// 后台维护的最小空闲连接数
	MinIdle int `yaml:"min_idle" json:"min_idle"`

	// 取出连接的等待上限
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`

	// 空闲超过此时长的连接被回收
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// 连接最大生命周期,超过后不再复用
	MaxLifetime time.Duration `yaml:"max_lifetime" json:"max_lifetime"`

	// 取出前是否探活
	TestOnCheckout bool `yaml:"test_on_checkout" json:"test_on_checkout"`

	// 后台回收与补充的扫描间隔
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:           32,
		MinIdle:           8,
		ConnectionTimeout: 60 * time.Second,
		IdleTimeout:       10 * time.Minute,
		MaxLifetime:       time.Hour,
		TestOnCheckout:    true,
		SweepInterval:     30 * time.Second,
	}
}

// pooledConn 一条受管连接及其年龄信息
type pooledConn struct {
	conn       *sql.Conn
	createdAt  time.Time
	returnedAt time.Time
}

// Conn 返回底层连接
func (pc *pooledConn) Conn() *sql.Conn {
	return pc.conn
}

// Pool 有上限的连接池。两个约束分开维护:slots 信号量只统计已取出
// (在用)的连接,Release 归还空闲连接时一并归还槽位,因此等待者总能
// 被归还唤醒;连接总数(在用 + 空闲)由 reserve 在锁内对照 MaxSize
// 预留名额,建连失败即退还。两者合起来保证 idle <= total <= MaxSize。
type Pool struct {
	db     *sql.DB
	config PoolConfig
	logger *zap.Logger

	// 取出许可信号量,容量 MaxSize
	slots chan struct{}

	mu     sync.Mutex
	idle   []*pooledConn
	total  int
	closed bool

	// 取出超时累计,供指标采样
	checkoutTimeouts atomic.Int64

	stop chan struct{}
	done chan struct{}
}

// New 根据连接串创建连接池。postgres:// 与 postgresql:// 走 pgx,
// 其余按 SQLite 文件路径处理。启动时预热 MinIdle 条连接,一条都
// 建不起来则视为初始化失败。
func New(databaseURL string, config PoolConfig, logger *zap.Logger) (*Pool, error) {
	driver := "sqlite"
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		driver = "pgx"
	}

	db, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, types.NewError(types.ErrPoolInit, "failed to open database").WithCause(err)
	}

	// database/sql 自带的池让位于本层管理
	db.SetMaxOpenConns(config.MaxSize)
	db.SetMaxIdleConns(config.MaxSize)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	p, err := newPool(db, config, logger.With(zap.String("driver", driver)))
	if err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// NewWithDB 基于已打开的 *sql.DB 创建连接池,主要供测试使用。
func NewWithDB(db *sql.DB, config PoolConfig, logger *zap.Logger) (*Pool, error) {
	return newPool(db, config, logger)
}

func newPool(db *sql.DB, config PoolConfig, logger *zap.Logger) (*Pool, error) {
	def := DefaultPoolConfig()
	if config.MaxSize <= 0 {
		config.MaxSize = def.MaxSize
	}
	if config.MinIdle < 0 || config.MinIdle > config.MaxSize {
		config.MinIdle = min(def.MinIdle, config.MaxSize)
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = def.ConnectionTimeout
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	if config.MaxLifetime <= 0 {
		config.MaxLifetime = def.MaxLifetime
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = def.SweepInterval
	}

	p := &Pool{
		db:     db,
		config: config,
		logger: logger.With(zap.String("component", "db_pool")),
		slots:  make(chan struct{}, config.MaxSize),
		idle:   make([]*pooledConn, 0, config.MaxSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := p.warm(config.MinIdle); err != nil {
		return nil, err
	}

	go p.sweepLoop()

	p.logger.Info("connection pool initialized",
		zap.Int("max_size", config.MaxSize),
		zap.Int("min_idle", config.MinIdle),
		zap.Duration("connection_timeout", config.ConnectionTimeout),
	)

	return p, nil
}

// warm 预热连接。要求至少一条连接建立成功。
func (p *Pool) warm(n int) error {
	if n <= 0 {
		// 至少验证一次连通性
		n = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.ConnectionTimeout)
	defer cancel()

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	var firstErr error
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if !p.reserve() {
				return nil
			}

			pc, err := p.dial(ctx)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return nil
			}

			p.mu.Lock()
			p.idle = append(p.idle, pc)
			p.mu.Unlock()
			return nil
		})
	}
	g.Wait()

	p.mu.Lock()
	established := p.total
	p.mu.Unlock()
	if established == 0 {
		return types.NewError(types.ErrPoolInit, "no database connection could be established").WithCause(firstErr)
	}
	return nil
}

// reserve 为一条新连接预留总数名额,超过 MaxSize 或池已关闭时失败。
func (p *Pool) reserve() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.total >= p.config.MaxSize {
		return false
	}
	p.total++
	return true
}

// dial 建立新连接,调用方必须已通过 reserve 预留名额;失败时退还名额。
func (p *Pool) dial(ctx context.Context) (*pooledConn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, err
	}
	now := time.Now()
	return &pooledConn{conn: conn, createdAt: now, returnedAt: now}, nil
}

// retire 关闭连接并释放其总数名额,不涉及取出许可。
func (p *Pool) retire(pc *pooledConn) {
	pc.conn.Close()
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
}

// =============================================================================
// 🎯 取出与归还
// =============================================================================

// Checkout 取得一条连接。等待取出许可最多 ConnectionTimeout;拿到许可
// 后优先复用空闲连接(过期或探活失败的连接被透明替换),无空闲则新建。
// 建连与探活同样受剩余预算约束,整个调用不会晚于 ConnectionTimeout 返回。
// 等待者的唤醒顺序不作保证。
func (p *Pool) Checkout(ctx context.Context) (*pooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	deadline := time.Now().Add(p.config.ConnectionTimeout)
	timer := time.NewTimer(p.config.ConnectionTimeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
	case <-timer.C:
		p.checkoutTimeouts.Add(1)
		return nil, ErrCheckoutTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// 建连与探活共用剩余预算
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			<-p.slots
			return nil, ErrPoolClosed
		}
		var pc *pooledConn
		if n := len(p.idle); n > 0 {
			pc = p.idle[n-1]
			p.idle = p.idle[:n-1]
		}
		p.mu.Unlock()

		if pc == nil {
			if !p.reserve() {
				// 后台补充刚占满了总数名额,它产出的空闲连接马上可取
				select {
				case <-timer.C:
					<-p.slots
					p.checkoutTimeouts.Add(1)
					return nil, ErrCheckoutTimeout
				case <-ctx.Done():
					<-p.slots
					return nil, ctx.Err()
				case <-time.After(time.Millisecond):
				}
				continue
			}
			pc, err := p.dial(dialCtx)
			if err != nil {
				<-p.slots
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if dialCtx.Err() != nil {
					p.checkoutTimeouts.Add(1)
					return nil, ErrCheckoutTimeout
				}
				return nil, err
			}
			return pc, nil
		}

		now := time.Now()
		if now.Sub(pc.createdAt) >= p.config.MaxLifetime || now.Sub(pc.returnedAt) >= p.config.IdleTimeout {
			p.retire(pc)
			continue
		}

		if p.config.TestOnCheckout {
			if err := pc.conn.PingContext(dialCtx); err != nil {
				p.logger.Warn("idle connection failed checkout probe", zap.Error(err))
				p.retire(pc)
				continue
			}
		}

		return pc, nil
	}
}

// Release 归还连接:连接回到空闲队列,取出许可一并归还。
// 池已关闭时直接关闭连接。
func (p *Pool) Release(pc *pooledConn) {
	p.mu.Lock()
	if p.closed {
		p.total--
		p.mu.Unlock()
		pc.conn.Close()
		<-p.slots
		return
	}
	pc.returnedAt = time.Now()
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
	<-p.slots
}

// Discard 丢弃一条已取出但不可复用的连接(例如操作中途出错)。
func (p *Pool) Discard(pc *pooledConn) {
	p.retire(pc)
	<-p.slots
}

// =============================================================================
// 🔄 后台维护
// =============================================================================

func (p *Pool) sweepLoop() {
	defer close(p.done)

	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stop:
			return
		}
	}
}

// sweep 回收过期空闲连接,并把空闲数补回 MinIdle。
func (p *Pool) sweep() {
	now := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	kept := p.idle[:0]
	var expired []*pooledConn
	for _, pc := range p.idle {
		if now.Sub(pc.createdAt) >= p.config.MaxLifetime || now.Sub(pc.returnedAt) >= p.config.IdleTimeout {
			expired = append(expired, pc)
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, pc := range expired {
		p.retire(pc)
	}
	if len(expired) > 0 {
		p.logger.Debug("swept expired connections", zap.Int("count", len(expired)))
	}

	p.rewarm()
}

// rewarm 补充空闲连接至 MinIdle,总数已到 MaxSize 时让位于业务取用。
func (p *Pool) rewarm() {
	for {
		p.mu.Lock()
		need := p.config.MinIdle - len(p.idle)
		closed := p.closed
		p.mu.Unlock()
		if closed || need <= 0 {
			return
		}

		if !p.reserve() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.config.ConnectionTimeout)
		pc, err := p.dial(ctx)
		cancel()
		if err != nil {
			p.logger.Warn("rewarm dial failed", zap.Error(err))
			return
		}

		p.mu.Lock()
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
	}
}

// =============================================================================
// 📊 状态与关闭
// =============================================================================

// PoolStats 连接池统计
type PoolStats struct {
	Total            int   `json:"total"`
	Idle             int   `json:"idle"`
	InUse            int   `json:"in_use"`
	MaxSize          int   `json:"max_size"`
	CheckoutTimeouts int64 `json:"checkout_timeouts"`
}

// Stats 返回当前统计
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Total:            p.total,
		Idle:             len(p.idle),
		InUse:            p.total - len(p.idle),
		MaxSize:          p.config.MaxSize,
		CheckoutTimeouts: p.checkoutTimeouts.Load(),
	}
}

// Ping 直接检查底层数据库连通性
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()
	return p.db.PingContext(ctx)
}

// Close 关闭连接池:回收全部空闲连接并关闭底层 DB。
// 在用连接在 Release 时被关闭。
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.stop)
	<-p.done

	for _, pc := range idle {
		pc.conn.Close()
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
	}

	p.logger.Info("connection pool closed")
	return p.db.Close()
}
