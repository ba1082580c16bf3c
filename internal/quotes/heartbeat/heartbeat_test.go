package heartbeat

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func at(ms int64) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func TestMonitor_DefaultInterval(t *testing.T) {
	m := New(0)
	assert.Equal(t, 30*time.Second, m.Interval())

	_, ok := m.NextPing()
	assert.False(t, ok, "Start 之前不应有 ping 计划")
	assert.Equal(t, ActionNone, m.Tick(at(100_000)))
}

// 30000ms：t=10000 发 ping；t=10500 收到数据 => 超时清除，下一次 ping 在 20500
func TestMonitor_Scenario_PingThenData(t *testing.T) {
	m := New(30 * time.Second)
	m.Start(at(0))

	for s := int64(1); s < 10; s++ {
		assert.Equal(t, ActionNone, m.Tick(at(s*1000)), "t=%ds", s)
	}
	require.Equal(t, ActionSendPing, m.Tick(at(10_000)))

	_, pending := m.NextPing()
	assert.False(t, pending, "发出 ping 之后 nextPing 必须清空")
	dl, ok := m.PongDeadline()
	require.True(t, ok)
	assert.Equal(t, at(40_000), dl)

	m.OnInbound(at(10_500))
	_, ok = m.PongDeadline()
	assert.False(t, ok)
	next, ok := m.NextPing()
	require.True(t, ok)
	assert.Equal(t, at(20_500), next)
}

func TestMonitor_TimeoutAfterSilence(t *testing.T) {
	m := New(30 * time.Second)
	m.Start(at(0))

	require.Equal(t, ActionSendPing, m.Tick(at(10_000)))
	assert.Equal(t, ActionNone, m.Tick(at(39_999)))
	assert.Equal(t, ActionTimeout, m.Tick(at(40_000)))
	// 超时是粘性的：调用方应当退出，再 tick 也还是超时
	assert.Equal(t, ActionTimeout, m.Tick(at(41_000)))
}

func TestMonitor_ExactlyOnePing(t *testing.T) {
	m := New(30 * time.Second)
	m.Start(at(0))

	pings := 0
	for ms := int64(0); ms < 40_000; ms += 1000 {
		if m.Tick(at(ms)) == ActionSendPing {
			pings++
		}
	}
	assert.Equal(t, 1, pings)
}

func TestMonitor_NoPingWhileTrafficFlows(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m := New(30 * time.Second)
	m.Start(at(0))

	now := int64(0)
	lastTraffic := int64(0)
	for i := 0; i < 5000; i++ {
		now += 250
		if now-lastTraffic >= 9_000 || rng.Intn(4) == 0 {
			m.OnInbound(at(now))
			lastTraffic = now
		}
		require.Equal(t, ActionNone, m.Tick(at(now)), "t=%dms", now)
	}
}

func TestMonitor_TrafficClearsPendingTimeout(t *testing.T) {
	m := New(9 * time.Second)
	m.Start(at(0))

	require.Equal(t, ActionSendPing, m.Tick(at(3_000)))
	m.OnInbound(at(11_999))
	assert.Equal(t, ActionNone, m.Tick(at(12_000)), "pong 截止前收到流量，不应超时")
	assert.Equal(t, ActionSendPing, m.Tick(at(14_999)))
}

func TestMonitor_PhasesAreExclusive(t *testing.T) {
	m := New(6 * time.Second)
	m.Start(at(0))

	check := func() {
		_, a := m.NextPing()
		_, b := m.PongDeadline()
		assert.False(t, a && b, "nextPing 与 pongDeadline 不能同时有效")
	}
	for ms := int64(0); ms < 30_000; ms += 500 {
		if ms%7_000 == 0 {
			m.OnInbound(at(ms))
		}
		if m.Tick(at(ms)) == ActionTimeout {
			break
		}
		check()
	}
}

func TestMonitor_Negotiate(t *testing.T) {
	m := New(DefaultInterval)
	m.Start(at(0))

	assert.True(t, m.Negotiate(20))
	assert.Equal(t, 20*time.Second, m.Interval())

	m.OnInbound(at(1_000))
	next, _ := m.NextPing()
	assert.Equal(t, at(1_000).Add(20*time.Second/3), next)

	assert.False(t, m.Negotiate(0))
	assert.False(t, m.Negotiate(-5))
	assert.Equal(t, 20*time.Second, m.Interval(), "非法值不能覆盖已协商的周期")
}

func TestMonitor_NegotiateOverflow(t *testing.T) {
	m := New(DefaultInterval)
	m.Start(at(0))

	var huge int64 = 10_000_000_000
	assert.False(t, m.Negotiate(int(huge)))
	assert.Equal(t, DefaultInterval, m.Interval())

	limit := maxSeconds
	assert.True(t, m.Negotiate(int(limit)))
	assert.Positive(t, m.Interval())

	m.OnInbound(at(1_000))
	assert.Equal(t, ActionNone, m.Tick(at(2_000)))
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "none", ActionNone.String())
	assert.Equal(t, "send_ping", ActionSendPing.String())
	assert.Equal(t, "timeout", ActionTimeout.String())
}
