// Package store 本地交易会话表（SQLite）
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/localtrader/internal/domain"

	_ "modernc.org/sqlite"
)

var storeLog = logrus.WithField("component", "trade_store")

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("trade session not found")

// querier 由 *sql.DB 和 *sql.Tx 共同实现
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries 交易会话表操作；在 TradeSessionDB 上直接执行，或在 Batch 中绑定到事务
type Queries struct {
	q querier
}

// TradeSessionDB 交易会话表；id 为主键，不会出现重复记录
type TradeSessionDB struct {
	*Queries
	db *sql.DB
}

// Open 打开（或创建）数据库文件；path 为 ":memory:" 时使用内存库
func Open(path string) (*TradeSessionDB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定

	s := &TradeSessionDB{Queries: &Queries{q: db}, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("迁移数据库失败: %w", err)
	}
	storeLog.Infof("✅ 交易会话库已打开: %s", path)
	return s, nil
}

func (s *TradeSessionDB) Close() error {
	return s.db.Close()
}

func (s *TradeSessionDB) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS trade_sessions (
  id TEXT PRIMARY KEY,
  last_change INTEGER NOT NULL,
  creation_time INTEGER NOT NULL,
  is_buyer INTEGER NOT NULL,
  owner_id TEXT NOT NULL,
  owner_name TEXT NOT NULL,
  peer_id TEXT NOT NULL,
  peer_name TEXT NOT NULL,
  currency TEXT NOT NULL,
  fiat_traded TEXT NOT NULL,
  price_formula_id TEXT NOT NULL,
  premium TEXT NOT NULL,
  satoshis INTEGER NOT NULL,
  status TEXT NOT NULL,
  is_open INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trade_sessions_buyer ON trade_sessions(is_buyer, creation_time DESC);`,
		`
CREATE TABLE IF NOT EXISTS trade_session_views (
  id TEXT PRIMARY KEY,
  viewed_at INTEGER NOT NULL
);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Batch 在一个事务中执行 fn；fn 返回错误时整体回滚
// 其他连接只会看到批次前或批次后的状态
func (s *TradeSessionDB) Batch(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	if err := fn(&Queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			storeLog.Warnf("⚠️ 事务回滚失败: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

const selectColumns = `id, last_change, creation_time, is_buyer, owner_id, owner_name, peer_id, peer_name,
  currency, fiat_traded, price_formula_id, premium, satoshis, status, is_open`

type scanner interface {
	Scan(dest ...any) error
}

func scanTradeSession(row scanner) (*domain.TradeSession, error) {
	var (
		ts              domain.TradeSession
		id              string
		fiat, premium   string
		isBuyer, isOpen int
	)
	if err := row.Scan(&id, &ts.LastChange, &ts.CreationTime, &isBuyer, &ts.OwnerID, &ts.OwnerName,
		&ts.PeerID, &ts.PeerName, &ts.Currency, &fiat, &ts.PriceFormulaID, &premium,
		&ts.Satoshis, &ts.Status, &isOpen); err != nil {
		return nil, err
	}
	var err error
	if ts.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("解析 id 失败 %q: %w", id, err)
	}
	if ts.FiatTraded, err = decimal.NewFromString(fiat); err != nil {
		return nil, fmt.Errorf("解析 fiat_traded 失败 id=%s: %w", id, err)
	}
	if ts.Premium, err = decimal.NewFromString(premium); err != nil {
		return nil, fmt.Errorf("解析 premium 失败 id=%s: %w", id, err)
	}
	ts.IsBuyer = isBuyer != 0
	ts.IsOpen = isOpen != 0
	return &ts, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func args(ts *domain.TradeSession) []any {
	return []any{
		ts.ID.String(), ts.LastChange, ts.CreationTime, boolInt(ts.IsBuyer), ts.OwnerID, ts.OwnerName,
		ts.PeerID, ts.PeerName, ts.Currency, ts.FiatTraded.String(), ts.PriceFormulaID,
		ts.Premium.String(), ts.Satoshis, ts.Status, boolInt(ts.IsOpen),
	}
}

func (q *Queries) list(ctx context.Context, where string, whereArgs ...any) ([]*domain.TradeSession, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM trade_sessions `+where+` ORDER BY creation_time DESC, id`, whereArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TradeSession
	for rows.Next() {
		ts, err := scanTradeSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Get 按 id 读取；不存在返回 ErrNotFound
func (q *Queries) Get(ctx context.Context, id uuid.UUID) (*domain.TradeSession, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM trade_sessions WHERE id = ?`, id.String())
	ts, err := scanTradeSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ts, err
}

// GetAll 全部交易会话（按创建时间倒序）
func (q *Queries) GetAll(ctx context.Context) ([]*domain.TradeSession, error) {
	return q.list(ctx, "")
}

// GetBuy 本地交易员为买方的交易会话
func (q *Queries) GetBuy(ctx context.Context) ([]*domain.TradeSession, error) {
	return q.list(ctx, "WHERE is_buyer = 1")
}

// GetSell 本地交易员为卖方的交易会话
func (q *Queries) GetSell(ctx context.Context) ([]*domain.TradeSession, error) {
	return q.list(ctx, "WHERE is_buyer = 0")
}

func (q *Queries) count(ctx context.Context, where string) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM trade_sessions `+where).Scan(&n)
	return n, err
}

func (q *Queries) Count(ctx context.Context) (int, error) { return q.count(ctx, "") }

func (q *Queries) CountBuy(ctx context.Context) (int, error) {
	return q.count(ctx, "WHERE is_buyer = 1")
}

func (q *Queries) CountSell(ctx context.Context) (int, error) {
	return q.count(ctx, "WHERE is_buyer = 0")
}

// Insert 插入新记录；id 已存在时返回错误
func (q *Queries) Insert(ctx context.Context, ts *domain.TradeSession) error {
	_, err := q.q.ExecContext(ctx, `INSERT INTO trade_sessions (`+selectColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args(ts)...)
	if err != nil {
		return fmt.Errorf("插入交易会话失败 id=%s: %w", ts.ID, err)
	}
	return nil
}

// Update 按 id 覆盖全部字段；记录不存在返回 ErrNotFound
func (q *Queries) Update(ctx context.Context, ts *domain.TradeSession) error {
	a := args(ts)
	res, err := q.q.ExecContext(ctx, `UPDATE trade_sessions SET
  last_change = ?, creation_time = ?, is_buyer = ?, owner_id = ?, owner_name = ?, peer_id = ?, peer_name = ?,
  currency = ?, fiat_traded = ?, price_formula_id = ?, premium = ?, satoshis = ?, status = ?, is_open = ?
WHERE id = ?`, append(a[1:], a[0])...)
	if err != nil {
		return fmt.Errorf("更新交易会话失败 id=%s: %w", ts.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert 插入或整体覆盖
func (q *Queries) Upsert(ctx context.Context, ts *domain.TradeSession) error {
	_, err := q.q.ExecContext(ctx, `INSERT INTO trade_sessions (`+selectColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  last_change = excluded.last_change,
  creation_time = excluded.creation_time,
  is_buyer = excluded.is_buyer,
  owner_id = excluded.owner_id,
  owner_name = excluded.owner_name,
  peer_id = excluded.peer_id,
  peer_name = excluded.peer_name,
  currency = excluded.currency,
  fiat_traded = excluded.fiat_traded,
  price_formula_id = excluded.price_formula_id,
  premium = excluded.premium,
  satoshis = excluded.satoshis,
  status = excluded.status,
  is_open = excluded.is_open`, args(ts)...)
	if err != nil {
		return fmt.Errorf("写入交易会话失败 id=%s: %w", ts.ID, err)
	}
	return nil
}

// Delete 删除记录及其查看时间；不存在不报错
func (q *Queries) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM trade_sessions WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("删除交易会话失败 id=%s: %w", id, err)
	}
	if _, err := q.q.ExecContext(ctx, `DELETE FROM trade_session_views WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("删除查看记录失败 id=%s: %w", id, err)
	}
	return nil
}

// DeleteAll 清空交易会话及查看记录
func (q *Queries) DeleteAll(ctx context.Context) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM trade_sessions`); err != nil {
		return fmt.Errorf("清空交易会话失败: %w", err)
	}
	if _, err := q.q.ExecContext(ctx, `DELETE FROM trade_session_views`); err != nil {
		return fmt.Errorf("清空查看记录失败: %w", err)
	}
	return nil
}

// MarkViewed 记录交易会话被查看的时间（unix 毫秒）
func (q *Queries) MarkViewed(ctx context.Context, id uuid.UUID, at int64) error {
	_, err := q.q.ExecContext(ctx, `INSERT INTO trade_session_views (id, viewed_at) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET viewed_at = excluded.viewed_at`, id.String(), at)
	return err
}

// ViewTime 返回最近一次查看时间；从未查看返回 (0, false)
func (q *Queries) ViewTime(ctx context.Context, id uuid.UUID) (int64, bool, error) {
	var at int64
	err := q.q.QueryRowContext(ctx, `SELECT viewed_at FROM trade_session_views WHERE id = ?`, id.String()).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return at, true, nil
}
