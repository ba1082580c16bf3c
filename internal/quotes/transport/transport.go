// Package transport 屏蔽具体 websocket 库，会话层只看到按帧收发的文本消息。
//
// 写只会由会话主循环发起，读只在 reader 协程里，所以实现不需要写锁。
package transport

import (
	"context"
	"fmt"
	"time"
)

type Conn interface {
	// Read 阻塞读一帧文本消息；连接关闭或出错时返回 error
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, b []byte) error
	// Subprotocol 握手协商出的子协议
	Subprotocol() string
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, subprotocol string) (Conn, error)
}

const (
	KindGorilla = "gorilla"
	KindCoder   = "coder"
)

type Options struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	ReadLimit        int64
}

func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		WriteWait:        5 * time.Second,
		ReadLimit:        1 << 20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	return o
}

// New 按名字选实现，空字符串默认 gorilla
func New(kind string, opts Options) (Dialer, error) {
	opts = opts.withDefaults()
	switch kind {
	case "", KindGorilla:
		return &GorillaDialer{opts: opts}, nil
	case KindCoder:
		return &CoderDialer{opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}
