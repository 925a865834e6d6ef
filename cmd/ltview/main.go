package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/localtrader/internal/controlapi"
	"github.com/betbot/localtrader/internal/domain"
)

var (
	// 样式定义
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	buyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")) // 绿色

	sellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	unviewedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11"))

	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("238"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238"))
)

// 列表筛选顺序：全部 / 买入 / 卖出
var kinds = []string{"", string(domain.TradeKindBuy), string(domain.TradeKindSell)}

type model struct {
	client   *controlClient
	interval time.Duration

	status   *controlapi.StatusResponse
	sessions []controlapi.TradeSessionView
	kindIdx  int
	cursor   int
	notice   string
	err      error
	updated  time.Time
}

type tickMsg time.Time

type dataMsg struct {
	status   *controlapi.StatusResponse
	sessions []controlapi.TradeSessionView
	err      error
}

type actionMsg struct {
	notice string
	err    error
}

func initialModel(client *controlClient, interval time.Duration) model {
	return model{client: client, interval: interval}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchCmd(m.client, kinds[m.kindIdx]), tickCmd(m.interval))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, fetchCmd(m.client, kinds[m.kindIdx])
		case "s":
			return m, syncCmd(m.client)
		case "tab":
			m.kindIdx = (m.kindIdx + 1) % len(kinds)
			m.cursor = 0
			return m, fetchCmd(m.client, kinds[m.kindIdx])
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.sessions)-1 {
				m.cursor++
			}
		case "v":
			if m.cursor < len(m.sessions) {
				return m, viewedCmd(m.client, m.sessions[m.cursor].ID)
			}
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(fetchCmd(m.client, kinds[m.kindIdx]), tickCmd(m.interval))

	case dataMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
			m.sessions = msg.sessions
			m.updated = time.Now()
			if m.cursor >= len(m.sessions) {
				m.cursor = max(len(m.sessions)-1, 0)
			}
		}
		return m, nil

	case actionMsg:
		m.err = msg.err
		m.notice = msg.notice
		if msg.err != nil {
			return m, nil
		}
		return m, fetchCmd(m.client, kinds[m.kindIdx])
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("LocalTrader"))
	b.WriteString("  ")
	b.WriteString(dimStyle.Render(fmt.Sprintf("更新于 %s", formatTime(m.updated))))
	b.WriteString("\n\n")

	b.WriteString(borderStyle.Render(renderStatus(m.status)))
	b.WriteString("\n\n")

	filter := "全部"
	if k := kinds[m.kindIdx]; k != "" {
		filter = k
	}
	b.WriteString(titleStyle.Render(fmt.Sprintf("交易会话 [%s] (%d)", filter, len(m.sessions))))
	b.WriteString("\n")
	b.WriteString(renderSessions(m.sessions, m.cursor))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(sellStyle.Render("❌ " + m.err.Error()))
		b.WriteString("\n")
	} else if m.notice != "" {
		b.WriteString(buyStyle.Render("✅ " + m.notice))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("q 退出 · r 刷新 · s 同步 · tab 切换筛选 · ↑/↓ 选择 · v 标记已读"))
	return b.String()
}

func renderStatus(st *controlapi.StatusResponse) string {
	if st == nil {
		return "连接中..."
	}
	var lines []string
	if st.Trader != nil {
		lines = append(lines, fmt.Sprintf("交易员: %s (%s)", st.Trader.Nickname, st.Trader.Address))
	} else {
		lines = append(lines, "交易员: 未设置")
	}
	session := "无"
	if st.Session != nil {
		session = st.Session.ID.String()
		if st.Session.LoggedIn {
			session += " (已登录)"
		}
	}
	lines = append(lines, fmt.Sprintf("会话: %s", session))
	lines = append(lines, fmt.Sprintf("队列: %d  订阅者: %d  买入: %d  卖出: %d",
		st.QueueLen, st.Subscribers, st.BuyCount, st.SellCount))
	syncLine := fmt.Sprintf("最后同步: %s  最后通知: %s",
		formatMillis(st.LastSynchronization), formatMillis(st.LastNotification))
	if st.NeedsSynchronization {
		syncLine += "  " + unviewedStyle.Render("需要同步")
	}
	lines = append(lines, syncLine)
	if st.Disabled {
		lines = append(lines, sellStyle.Render("本地交易员已停用"))
	}
	return strings.Join(lines, "\n")
}

func renderSessions(sessions []controlapi.TradeSessionView, cursor int) string {
	if len(sessions) == 0 {
		return dimStyle.Render("  (空)") + "\n"
	}
	var b strings.Builder
	for i, s := range sessions {
		side := sellStyle.Render("SELL")
		if s.IsBuyer {
			side = buyStyle.Render("BUY ")
		}
		mark := " "
		if !s.Viewed {
			mark = unviewedStyle.Render("●")
		}
		row := fmt.Sprintf("%s %s %-12s %10s %-4s %-10s %s",
			mark, side, truncate(s.PeerName, 12), s.FiatTraded.StringFixed(2), s.Currency,
			s.Status, formatMillis(s.LastChange))
		if i == cursor {
			row = selectedStyle.Render(row)
		}
		b.WriteString(row)
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("01-02 15:04:05")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("15:04:05")
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchCmd(c *controlClient, kind string) tea.Cmd {
	return func() tea.Msg {
		st, err := c.Status()
		if err != nil {
			return dataMsg{err: err}
		}
		sessions, err := c.TradeSessions(kind)
		return dataMsg{status: st, sessions: sessions, err: err}
	}
}

func syncCmd(c *controlClient) tea.Cmd {
	return func() tea.Msg {
		if err := c.Sync(); err != nil {
			logrus.Warnf("同步请求失败: %v", err)
			return actionMsg{err: err}
		}
		return actionMsg{notice: "已请求同步"}
	}
}

func viewedCmd(c *controlClient, id uuid.UUID) tea.Cmd {
	return func() tea.Msg {
		if err := c.MarkViewed(id); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{notice: "已标记为已读"}
	}
}

func main() {
	addr := flag.String("addr", envOr("LT_CONTROL_ADDR", "127.0.0.1:8787"), "控制接口地址")
	token := flag.String("token", os.Getenv("LT_CONTROL_TOKEN"), "控制接口 Bearer token")
	interval := flag.Duration("interval", 2*time.Second, "刷新间隔")
	flag.Parse()

	// 重定向 logrus 输出到文件，避免干扰 TUI
	logDir := "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		logDir = os.TempDir()
	}
	file, err := os.OpenFile(filepath.Join(logDir, "ltview.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		defer file.Close()
		logrus.SetOutput(file)
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			DisableColors:   true,
		})
	}

	p := tea.NewProgram(initialModel(newControlClient(*addr, *token), *interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("运行程序失败: %v", err)
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
