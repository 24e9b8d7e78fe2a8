package document

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// mailbox 无界 FIFO 队列。编辑命令永远不会因为队列满而阻塞调用方，
// 堆积情况通过 depth 指标观察
type mailbox struct {
	mu     sync.Mutex
	queue  []command
	notify chan struct{}
	closed bool
	depth  prometheus.Gauge
}

func newMailbox(depth prometheus.Gauge) *mailbox {
	return &mailbox{notify: make(chan struct{}, 1), depth: depth}
}

// push 关闭后返回 false
func (m *mailbox) push(c command) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, c)
	m.mu.Unlock()

	m.depth.Inc()
	m.wake()
	return true
}

// pop 阻塞直到取到命令；关闭且队列已空时返回 false
func (m *mailbox) pop() (command, bool) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			c := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.mu.Unlock()
			m.depth.Dec()
			return c, true
		}
		if m.closed {
			m.mu.Unlock()
			return nil, false
		}
		m.mu.Unlock()
		<-m.notify
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}

func (m *mailbox) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
