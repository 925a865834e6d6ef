package domain

import "github.com/google/uuid"

// CaptchaCommand 需要验证码的操作标签
type CaptchaCommand string

const (
	CaptchaCreateSellOrder       CaptchaCommand = "CREATE_SELL_ORDER"
	CaptchaCreateInstantBuyOrder CaptchaCommand = "CREATE_INSTANT_BUY_ORDER"
)

// Session 服务端签发的会话
// 只存在于进程内存中，续期时整体替换；会话本身不代表已认证
type Session struct {
	ID      uuid.UUID        `json:"id"`
	Captcha []CaptchaCommand `json:"captcha"`
}

// RequiresCaptcha 检查该会话下某个操作是否需要验证码
func (s *Session) RequiresCaptcha(cmd CaptchaCommand) bool {
	if s == nil {
		return true
	}
	for _, c := range s.Captcha {
		if c == cmd {
			return true
		}
	}
	return false
}

// Clone 返回会话的深拷贝（用于对外暴露快照）
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := &Session{ID: s.ID}
	if len(s.Captcha) > 0 {
		out.Captcha = append([]CaptchaCommand(nil), s.Captcha...)
	}
	return out
}
