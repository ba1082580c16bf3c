package proto

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/segmentio/encoding/json"
)

// Subprotocol websocket 握手时协商的子协议
const Subprotocol = "tr_json2"

// 固定的请求流 id
const (
	LoginStreamID = 1
	ItemStreamID  = 2
)

type Type string

const (
	TypeRefresh Type = "Refresh"
	TypeUpdate  Type = "Update"
	TypeStatus  Type = "Status"
	TypePing    Type = "Ping"
	TypePong    Type = "Pong"
	TypeError   Type = "Error"
	TypeClose   Type = "Close" // 客户端关闭某个流
	TypeOther   Type = ""
)

type Domain string

const (
	DomainLogin       Domain = "Login"
	DomainMarketPrice Domain = "MarketPrice"
)

// 流状态
const (
	StreamOpen   = "Open"
	StreamClosed = "Closed"

	DataOk      = "Ok"
	DataSuspect = "Suspect"
)

var ErrMalformed = errors.New("malformed message")

type State struct {
	Stream string `json:"Stream,omitempty"`
	Data   string `json:"Data,omitempty"`
	Code   string `json:"Code,omitempty"`
	Text   string `json:"Text,omitempty"`
}

// Open 流是否处于 Open
func (s *State) Open() bool { return s != nil && s.Stream == StreamOpen }

type Key struct {
	Name     string          `json:"Name,omitempty"`
	Service  string          `json:"Service,omitempty"`
	Elements json.RawMessage `json:"Elements,omitempty"`
}

// Message 入站消息在边界处解析出来的带标签结构，按 Type/Domain 分派
type Message struct {
	ID       int                        `json:"ID"`
	Type     Type                       `json:"Type"`
	Domain   Domain                     `json:"Domain"`
	Key      *Key                       `json:"Key,omitempty"`
	State    *State                     `json:"State,omitempty"`
	Elements map[string]json.RawMessage `json:"Elements,omitempty"`
	Fields   map[string]json.RawMessage `json:"Fields,omitempty"`

	Raw []byte `json:"-"`
}

func (m *Message) IsLogin() bool { return m.Domain == DomainLogin }

// Field 取 Fields 里某个字段的原始值
func (m *Message) Field(name string) ([]byte, bool) {
	raw, ok := m.Fields[name]
	return raw, ok
}

// Name 请求 key 的名字（品种代码或用户名），没有 Key 时为空
func (m *Message) Name() string {
	if m.Key == nil {
		return ""
	}
	return m.Key.Name
}

// LoginPingTimeout login refresh 里服务端下发的 PingTimeout（秒）
func (m *Message) LoginPingTimeout() (int, bool) {
	raw, ok := m.Elements["PingTimeout"]
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil || v <= 0 || v > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}

// Decode 解析一帧：通常是对象数组，也兼容单个对象。
// 缺 Type 的对象整帧拒绝，返回 ErrMalformed。
func Decode(frame []byte) ([]Message, error) {
	b := bytes.TrimSpace(frame)
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	var items []json.RawMessage
	switch b[0] {
	case '[':
		if err := json.Unmarshal(b, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case '{':
		items = []json.RawMessage{b}
	default:
		return nil, fmt.Errorf("%w: not a json object or array", ErrMalformed)
	}

	out := make([]Message, 0, len(items))
	for i, it := range items {
		var msg Message
		if err := json.Unmarshal(it, &msg); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrMalformed, i, err)
		}
		if msg.Type == TypeOther {
			return nil, fmt.Errorf("%w: item %d has no Type", ErrMalformed, i)
		}
		if msg.Domain == "" && msg.Type != TypePing && msg.Type != TypePong {
			msg.Domain = DomainMarketPrice
		}
		msg.Raw = it
		out = append(out, msg)
	}
	return out, nil
}

// Pretty 缩进格式化，用于控制台回显；不是合法 JSON 时原样返回
func Pretty(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return raw
	}
	return buf.Bytes()
}
