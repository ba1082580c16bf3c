package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceIdKey 在 Context 中携带本次会话 id
const TraceIdKey = "trace_id"

// 全局 Logger 实例
var Log = zap.NewNop()

// level 可以在运行中修改（配置热更新）
var level = zap.NewAtomicLevelAt(zap.InfoLevel)

// Init 初始化日志组件，只写 stderr
// serviceName: 程序名 (例如 "market-price")
// level: 日志级别 (debug, info, warn, error)
func Init(serviceName string, level string) {
	InitWithFile(serviceName, level, "")
}

// InitWithFile 初始化日志组件
// logFile 为空时只写 stderr；stdout 留给收发报文的回显
func InitWithFile(serviceName string, lvl string, logFile string) {
	writeSyncers := []zapcore.WriteSyncer{
		zapcore.AddSync(os.Stderr),
	}

	if logFile != "" {
		// 目录建不出来或文件打不开时只写 stderr，不中断程序
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err == nil {
			file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				writeSyncers = append(writeSyncers, zapcore.AddSync(file))
			}
		}
	}

	InitWithWriter(serviceName, lvl, zapcore.NewMultiWriteSyncer(writeSyncers...))
}

// InitWithWriter 把日志写到任意 writer（测试里用 bytes.Buffer）
func InitWithWriter(serviceName string, lvl string, w io.Writer) {
	SetLevel(lvl)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder   // 时间格式: 2023-11-23T...
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder // 级别格式: INFO, ERROR
	encoderConfig.MessageKey = "msg"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)

	// AddCallerSkip: 封装了一层函数，Skip 1，否则行号永远指向 logger.go
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("service", serviceName))
}

// SetLevel 修改日志级别，非法值忽略并返回 false
func SetLevel(lvl string) bool {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(lvl)); err != nil {
		return false
	}
	level.SetLevel(zl)
	return true
}

// Level 当前日志级别
func Level() zapcore.Level {
	return level.Level()
}

// WithTrace 把会话 id 放进 ctx，之后所有带 ctx 的日志都会带上 trace_id
func WithTrace(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIdKey, traceID)
}

// ---------------------------------------------------------
// 带 Context 的日志方法
// ---------------------------------------------------------

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Info(msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Error(msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Warn(msg, fields...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Debug(msg, fields...)
}

func extractTrace(ctx context.Context, fields *[]zap.Field) {
	if ctx == nil {
		return
	}
	if traceID, ok := ctx.Value(TraceIdKey).(string); ok && traceID != "" {
		*fields = append(*fields, zap.String("trace_id", traceID))
	}
}

// Sync 刷新缓冲区 (main 里 defer 调用)
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
