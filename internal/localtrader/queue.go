package localtrader

import (
	"container/list"
	"sync"
)

// queuedRequest 队列中的请求；retries 记录因 INVALID_SESSION 重新入队的次数
type queuedRequest struct {
	req     Request
	retries int
}

// requestQueue 线程安全的 FIFO 队列，出队阻塞直到有元素或队列关闭
type requestQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *list.List
	closed bool
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{items: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push 追加到队尾并唤醒 worker；队列已关闭返回 ErrQueueClosed
func (q *requestQueue) push(item queuedRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items.PushBack(item)
	q.cond.Signal()
	return nil
}

// pop 阻塞取出队首；队列关闭后返回 false
func (q *requestQueue) pop() (queuedRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return queuedRequest{}, false
	}
	front := q.items.Front()
	q.items.Remove(front)
	return front.Value.(queuedRequest), true
}

// close 关闭队列并丢弃未处理的请求，返回丢弃数量
func (q *requestQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	q.closed = true
	dropped := q.items.Len()
	q.items.Init()
	q.cond.Broadcast()
	return dropped
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
