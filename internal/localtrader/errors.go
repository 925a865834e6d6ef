package localtrader

import "errors"

var (
	// ErrInvalidOperation 请求需要登录但本地没有交易员身份
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrQueueClosed 管理器已停止
	ErrQueueClosed = errors.New("request queue closed")
)
