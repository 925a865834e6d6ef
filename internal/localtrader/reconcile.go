package localtrader

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/internal/metrics"
	"github.com/betbot/localtrader/internal/store"
)

var reconcileLog = logrus.WithField("component", "lt_reconcile")

// UpdateLocalTradeSessions 将服务端快照合并到本地交易会话表
//   - 本地有、远端无：删除
//   - 两边都有：远端 LastChange 严格更大才覆盖，旧快照不会回退本地状态
//   - 远端剩余：插入（同 id 的多条只保留 LastChange 最大的一条）
//
// 在存储锁和单个事务内完成，读者看不到合并到一半的状态
func (m *Manager) UpdateLocalTradeSessions(ctx context.Context, remote []*domain.TradeSession) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	metrics.ReconcileRuns.Add(1)
	var inserted, updated, deleted int
	err := m.db.Batch(ctx, func(q *store.Queries) error {
		local, err := q.GetAll(ctx)
		if err != nil {
			return fmt.Errorf("读取本地交易会话失败: %w", err)
		}

		working := make([]*domain.TradeSession, 0, len(remote))
		for _, r := range remote {
			if r != nil {
				working = append(working, r)
			}
		}

		for _, l := range local {
			var match *domain.TradeSession
			working, match = findAndRemove(working, l.ID)
			if match == nil {
				if err := q.Delete(ctx, l.ID); err != nil {
					return err
				}
				deleted++
				continue
			}
			if match.NewerThan(l) {
				if err := q.Update(ctx, match); err != nil {
					return err
				}
				updated++
			}
		}

		for _, r := range collapseByID(working) {
			if err := q.Insert(ctx, r); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		metrics.ReconcileErrors.Add(1)
		return err
	}
	reconcileLog.Infof("📊 交易会话对账完成: remote=%d inserted=%d updated=%d deleted=%d",
		len(remote), inserted, updated, deleted)
	return nil
}

// findAndRemove 消耗式查找：返回移除匹配项后的列表和匹配项
// 同一 id 出现多次时取 LastChange 最大的一条，其余一并移除
func findAndRemove(list []*domain.TradeSession, id uuid.UUID) ([]*domain.TradeSession, *domain.TradeSession) {
	var match *domain.TradeSession
	out := list[:0]
	for _, t := range list {
		if t.ID != id {
			out = append(out, t)
			continue
		}
		if match == nil || t.NewerThan(match) {
			match = t
		}
	}
	return out, match
}

// collapseByID 同 id 只保留 LastChange 最大的一条，保持首次出现的顺序
func collapseByID(list []*domain.TradeSession) []*domain.TradeSession {
	index := make(map[uuid.UUID]int, len(list))
	out := make([]*domain.TradeSession, 0, len(list))
	for _, t := range list {
		if i, ok := index[t.ID]; ok {
			if t.NewerThan(out[i]) {
				out[i] = t
			}
			continue
		}
		index[t.ID] = len(out)
		out = append(out, t)
	}
	return out
}

// UpdateSingleTradeSession 服务端推送的单条更新，无条件插入或覆盖
func (m *Manager) UpdateSingleTradeSession(ctx context.Context, ts *domain.TradeSession) error {
	if ts == nil {
		return nil
	}
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.db.Upsert(ctx, ts)
}

// LocalTradeSession 按 id 读取本地交易会话
func (m *Manager) LocalTradeSession(ctx context.Context, id uuid.UUID) (*domain.TradeSession, error) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.db.Get(ctx, id)
}

func (m *Manager) LocalTradeSessions(ctx context.Context) ([]*domain.TradeSession, error) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.db.GetAll(ctx)
}

func (m *Manager) LocalBuyTradeSessions(ctx context.Context) ([]*domain.TradeSession, error) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.db.GetBuy(ctx)
}

func (m *Manager) LocalSellTradeSessions(ctx context.Context) ([]*domain.TradeSession, error) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.db.GetSell(ctx)
}

func (m *Manager) CountLocalTradeSessions(ctx context.Context) (int, error) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.db.Count(ctx)
}

func (m *Manager) CountLocalBuyTradeSessions(ctx context.Context) (int, error) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.db.CountBuy(ctx)
}

func (m *Manager) CountLocalSellTradeSessions(ctx context.Context) (int, error) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.db.CountSell(ctx)
}

// IsViewed 查看时间不早于最后变更时间即视为已查看
func (m *Manager) IsViewed(ctx context.Context, ts *domain.TradeSession) (bool, error) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	at, ok, err := m.db.ViewTime(ctx, ts.ID)
	if err != nil || !ok {
		return false, err
	}
	return at >= ts.LastChange, nil
}

// MarkViewed 以交易会话的 LastChange 记录查看时间，不受本地时钟偏差影响
func (m *Manager) MarkViewed(ctx context.Context, ts *domain.TradeSession) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.db.MarkViewed(ctx, ts.ID, ts.LastChange)
}
