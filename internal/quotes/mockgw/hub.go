package mockgw

import (
	"context"
	"sync"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"wsquote.com/pkg/logger"
)

// Fields 一条报价的字段，值是 JSON 数字的原始字节
type Fields = map[string]json.RawMessage

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Conn]struct{} // ric -> set(conn)
	last map[string]Fields             // ric -> 合并后的最新快照
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*Conn]struct{}, 64),
		last: make(map[string]Fields, 64),
	}
}

// Subscribe 登记订阅，并在同一把锁里把当前快照交给 onSnapshot。
// 这样 refresh 一定排在之后的任何 update 前面。没有快照时不登记，返回 false。
func (h *Hub) Subscribe(c *Conn, ric string, onSnapshot func(Fields)) bool {
	logger.Debug(context.Background(), "subscribe", zap.String("conn", c.id), zap.String("ric", ric))

	h.mu.Lock()
	defer h.mu.Unlock()
	last, ok := h.last[ric]
	if !ok {
		return false
	}
	set := h.subs[ric]
	if set == nil {
		set = make(map[*Conn]struct{}, 16)
		h.subs[ric] = set
	}
	set[c] = struct{}{}
	onSnapshot(cloneFields(last))
	return true
}

func (h *Hub) Unsubscribe(c *Conn, ric string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.subs[ric]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, ric)
		}
	}
}

func (h *Hub) RemoveConn(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ric, m := range h.subs {
		delete(m, c)
		if len(m) == 0 {
			delete(h.subs, ric)
		}
	}
}

// Publish 合并进快照并推给所有订阅者。
// 对每个 conn 都是非阻塞 Offer，慢客户端不会卡住广播。
func (h *Hub) Publish(ric string, fields Fields) {
	h.mu.Lock()
	last := h.last[ric]
	if last == nil {
		last = make(Fields, len(fields))
		h.last[ric] = last
	}
	for k, v := range fields {
		last[k] = v
	}
	conns := make([]*Conn, 0, len(h.subs[ric]))
	for c := range h.subs[ric] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Offer(ric, fields)
	}
}

// Subscribers 某个 ric 当前的订阅连接数
func (h *Hub) Subscribers(ric string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ric])
}

func cloneFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
