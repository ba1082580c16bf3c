// Package heartbeat 应用层 ping/pong 探活状态机。
//
// 两个阶段互斥：等待发 ping（nextPing 有值）或等待回应（pongDeadline 有值）。
// 任何入站流量都会清掉 pongDeadline 并把下一次 ping 排到 now + interval/3。
// Monitor 不带锁，多个协程共用时由调用方加锁。
package heartbeat

import (
	"math"
	"time"
)

// DefaultInterval login 完成前使用的探活周期
const DefaultInterval = 30 * time.Second

type Action uint8

const (
	ActionNone     Action = iota
	ActionSendPing        // 调用方需要发 {"Type":"Ping"}
	ActionTimeout         // ping 之后超时没有任何流量，连接视为已死
)

func (a Action) String() string {
	switch a {
	case ActionSendPing:
		return "send_ping"
	case ActionTimeout:
		return "timeout"
	default:
		return "none"
	}
}

type Monitor struct {
	interval     time.Duration
	nextPing     time.Time // 零值表示未设置
	pongDeadline time.Time
}

func New(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{interval: interval}
}

// Start 连接建立时调用，排第一次 ping
func (m *Monitor) Start(now time.Time) {
	m.OnInbound(now)
}

// Tick 固定节拍调用（默认 1s 一次）
func (m *Monitor) Tick(now time.Time) Action {
	if !m.nextPing.IsZero() && !now.Before(m.nextPing) {
		m.nextPing = time.Time{}
		m.pongDeadline = now.Add(m.interval)
		return ActionSendPing
	}
	if !m.pongDeadline.IsZero() && !now.Before(m.pongDeadline) {
		return ActionTimeout
	}
	return ActionNone
}

// OnInbound 收到任何消息（数据、ping、pong）都调用
func (m *Monitor) OnInbound(now time.Time) {
	m.pongDeadline = time.Time{}
	m.nextPing = now.Add(m.interval / 3)
}

// Negotiate login 成功后用服务端下发的 PingTimeout（秒）覆盖默认值。
// 已经排好的 deadline 不回溯，下一次 OnInbound/Tick 起生效。
// 非正数或换算成 Duration 会溢出的值忽略。
func (m *Monitor) Negotiate(seconds int) bool {
	if seconds <= 0 || int64(seconds) > maxSeconds {
		return false
	}
	m.interval = time.Duration(seconds) * time.Second
	return true
}

const maxSeconds = math.MaxInt64 / int64(time.Second)

func (m *Monitor) Interval() time.Duration { return m.interval }

// NextPing 第二个返回值为 false 表示未设置
func (m *Monitor) NextPing() (time.Time, bool) { return m.nextPing, !m.nextPing.IsZero() }

func (m *Monitor) PongDeadline() (time.Time, bool) {
	return m.pongDeadline, !m.pongDeadline.IsZero()
}
