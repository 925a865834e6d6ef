package controlapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/betbot/localtrader/internal/domain"
	"github.com/betbot/localtrader/internal/localtrader"
	"github.com/betbot/localtrader/internal/store"
)

func (s *Server) handleStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	resp := StatusResponse{
		QueueLen:             s.mgr.QueueLen(),
		Subscribers:          s.mgr.SubscriberCount(),
		NeedsSynchronization: s.mgr.NeedsSynchronization(),
		LastSynchronization:  s.mgr.LastTraderSynchronization(),
		LastNotification:     s.mgr.LastTraderNotification(),
		Disabled:             s.mgr.IsLocalTraderDisabled(),
	}
	if lt, ok := s.mgr.LocalTrader(); ok {
		resp.Trader = &TraderStatus{Address: lt.Address.Hex(), Nickname: lt.Nickname}
	}
	if session, loggedIn := s.mgr.SessionSnapshot(); session != nil {
		resp.Session = &SessionStatus{ID: session.ID, Captcha: session.Captcha, LoggedIn: loggedIn}
	}

	var err error
	if resp.BuyCount, err = s.mgr.CountLocalBuyTradeSessions(ctx); err != nil {
		writeError(c, http.StatusInternalServerError, fmt.Sprintf("count buy: %v", err))
		return
	}
	if resp.SellCount, err = s.mgr.CountLocalSellTradeSessions(ctx); err != nil {
		writeError(c, http.StatusInternalServerError, fmt.Sprintf("count sell: %v", err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTradeSessionsList(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	var (
		list []*domain.TradeSession
		err  error
	)
	kind := strings.TrimSpace(c.Query("kind"))
	switch {
	case kind == "":
		list, err = s.mgr.LocalTradeSessions(ctx)
	default:
		k, ok := domain.ParseTradeKind(kind)
		if !ok {
			writeError(c, http.StatusBadRequest, "kind must be buy or sell")
			return
		}
		if k == domain.TradeKindBuy {
			list, err = s.mgr.LocalBuyTradeSessions(ctx)
		} else {
			list, err = s.mgr.LocalSellTradeSessions(ctx)
		}
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, fmt.Sprintf("list trade sessions: %v", err))
		return
	}

	out := make([]TradeSessionView, 0, len(list))
	for _, ts := range list {
		viewed, err := s.mgr.IsViewed(ctx, ts)
		if err != nil {
			writeError(c, http.StatusInternalServerError, fmt.Sprintf("view state: %v", err))
			return
		}
		out = append(out, TradeSessionView{TradeSession: ts, Viewed: viewed})
	}
	c.JSON(http.StatusOK, out)
}

// lookup 解析路径参数并读取交易会话；失败时已写入响应
func (s *Server) lookup(ctx context.Context, c *gin.Context) (*domain.TradeSession, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid trade session id")
		return nil, false
	}
	ts, err := s.mgr.LocalTradeSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(c, http.StatusNotFound, "trade session not found")
		return nil, false
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, fmt.Sprintf("get trade session: %v", err))
		return nil, false
	}
	return ts, true
}

func (s *Server) handleTradeSessionGet(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	ts, ok := s.lookup(ctx, c)
	if !ok {
		return
	}
	viewed, err := s.mgr.IsViewed(ctx, ts)
	if err != nil {
		writeError(c, http.StatusInternalServerError, fmt.Sprintf("view state: %v", err))
		return
	}
	c.JSON(http.StatusOK, TradeSessionView{TradeSession: ts, Viewed: viewed})
}

func (s *Server) handleTradeSessionViewed(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	ts, ok := s.lookup(ctx, c)
	if !ok {
		return
	}
	if err := s.mgr.MarkViewed(ctx, ts); err != nil {
		writeError(c, http.StatusInternalServerError, fmt.Sprintf("mark viewed: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleSync 排队一次全量交易会话同步，结果通过观察者和本地存储体现
func (s *Server) handleSync(c *gin.Context) {
	err := s.mgr.MakeRequest(localtrader.NewGetTradeSessions())
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"ok": true, "queue_len": s.mgr.QueueLen()})
	case errors.Is(err, localtrader.ErrInvalidOperation):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, localtrader.ErrQueueClosed):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) currentSettings() Settings {
	return Settings{
		Location:  s.mgr.Location(),
		PlaySound: s.mgr.PlaySoundOnTradeNotification(),
		UseMiles:  s.mgr.UseMiles(),
		Disabled:  s.mgr.IsLocalTraderDisabled(),
	}
}

func (s *Server) handleSettingsGet(c *gin.Context) {
	c.JSON(http.StatusOK, s.currentSettings())
}

func (s *Server) handleSettingsUpdate(c *gin.Context) {
	var req SettingsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if loc := req.Location; loc != nil {
		if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
			writeError(c, http.StatusBadRequest, "location out of range")
			return
		}
		if err := s.mgr.SetLocation(*loc); err != nil {
			writeError(c, http.StatusInternalServerError, err.Error())
			return
		}
	}
	updates := []struct {
		v   *bool
		set func(bool) error
	}{
		{req.PlaySound, s.mgr.SetPlaySoundOnTradeNotification},
		{req.UseMiles, s.mgr.SetUseMiles},
		{req.Disabled, s.mgr.SetLocalTraderDisabled},
	}
	for _, u := range updates {
		if u.v == nil {
			continue
		}
		if err := u.set(*u.v); err != nil {
			writeError(c, http.StatusInternalServerError, err.Error())
			return
		}
	}
	c.JSON(http.StatusOK, s.currentSettings())
}
