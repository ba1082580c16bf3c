package xerr

import (
	"errors"
	"fmt"
)

// 错误码：每一种致命错误对应一类
const (
	OK            = 0
	Usage         = 400 // 命令行参数错误
	Config        = 401 // 配置文件/环境变量错误
	Transport     = 502 // 连接失败、读写失败、对端关闭
	LoginRejected = 403 // login 流不是 Open
	LoginTimeout  = 408 // login 响应迟迟不来
	PingTimeout   = 504 // ping 之后没有任何流量
	Internal      = 500
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Err  error  `json:"-"`
}

func (e *CodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, xerr.NewErrCode(code)) 按错误码匹配
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 保留底层错误，附上错误码
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, Err: err}
}

// CodeOf 取错误链上第一个 CodeError 的码；没有则返回 Internal
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return Internal
}

// ExitCode 进程退出码：只有 nil 是 0，其它一律 1
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

func MapErrMsg(code int) string {
	switch code {
	case Usage:
		return "invalid command line"
	case Config:
		return "invalid configuration"
	case Transport:
		return "websocket transport failure"
	case LoginRejected:
		return "login stream not open"
	case LoginTimeout:
		return "login response not received"
	case PingTimeout:
		return "no traffic after ping"
	default:
		return "internal error"
	}
}
