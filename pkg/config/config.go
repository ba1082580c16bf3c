package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"wsquote.com/pkg/common"
	"wsquote.com/pkg/xerr"
)

// ErrHelp --help：打印用法后正常退出
var ErrHelp = pflag.ErrHelp

type Config struct {
	Hostname string `mapstructure:"hostname"`
	Port     int    `mapstructure:"port"`
	AppID    string `mapstructure:"app_id"`
	User     string `mapstructure:"user"`
	Position string `mapstructure:"position"`
	RIC      string `mapstructure:"ric"`

	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Transport TransportConfig `mapstructure:"transport"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Influx    InfluxConfig    `mapstructure:"influx"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // 为空不启动 /metrics
}

type TransportConfig struct {
	Kind             string        `mapstructure:"kind"` // gorilla | coder
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	ReadLimit        int64         `mapstructure:"read_limit"`
}

type HeartbeatConfig struct {
	Tick         time.Duration `mapstructure:"tick"`
	Interval     time.Duration `mapstructure:"interval"` // login 之前的探活周期
	LoginTimeout time.Duration `mapstructure:"login_timeout"`
}

type PublishConfig struct {
	NatsURL string `mapstructure:"nats_url"`
}

type InfluxConfig struct {
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	Org           string        `mapstructure:"org"`
	Bucket        string        `mapstructure:"bucket"`
	BatchSize     uint          `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// URL 网关地址 ws://host:port/WebSocket
func (c *Config) URL() string {
	return "ws://" + net.JoinHostPort(c.Hostname, strconv.Itoa(c.Port)) + "/WebSocket"
}

func (c *Config) Validate() error {
	switch {
	case c.Hostname == "":
		return xerr.New(xerr.Usage, "hostname is required")
	case c.Port <= 0 || c.Port > 65535:
		return xerr.New(xerr.Usage, fmt.Sprintf("invalid port %d", c.Port))
	case c.RIC == "":
		return xerr.New(xerr.Usage, "ric is required")
	case c.Heartbeat.Tick < 0 || c.Heartbeat.Interval < 0 || c.Heartbeat.LoginTimeout < 0:
		return xerr.New(xerr.Config, "heartbeat durations must not be negative")
	}
	return nil
}

// NewFlagSet 命令行参数；--help 由 pflag 处理
func NewFlagSet(service string, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(service, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.SortFlags = false

	fs.String("hostname", "127.0.0.1", "gateway hostname")
	fs.Int("port", 15000, "gateway websocket port")
	fs.String("app_id", "256", "application id sent in login")
	fs.String("user", common.CurrentUser(), "user name sent in login")
	fs.String("position", "", "position sent in login (default: local IPv4 address)")
	fs.String("ric", "TRI.N", "instrument to subscribe")
	fs.String("config", "", "yaml config file (default: ./config/"+service+".yaml if present)")
	fs.String("log_level", "info", "log level: debug, info, warn, error")
	fs.String("metrics_addr", "", "serve prometheus /metrics on this address")
	fs.String("transport", "gorilla", "websocket library: gorilla or coder")

	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: %s [options]\n\nOptions:\n", service)
		fs.PrintDefaults()
	}
	return fs
}

// 命令行参数 -> viper key
var flagKeys = map[string]string{
	"hostname":     "hostname",
	"port":         "port",
	"app_id":       "app_id",
	"user":         "user",
	"position":     "position",
	"ric":          "ric",
	"log_level":    "log.level",
	"metrics_addr": "metrics.addr",
	"transport":    "transport.kind",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.handshake_timeout", 10*time.Second)
	v.SetDefault("transport.write_wait", 5*time.Second)
	v.SetDefault("transport.read_limit", 1<<20)
	v.SetDefault("heartbeat.tick", time.Second)
	v.SetDefault("heartbeat.interval", 30*time.Second)
	v.SetDefault("heartbeat.login_timeout", 0)
	v.SetDefault("log.file", "")
}

// Load 解析命令行，叠加 yaml 配置文件和环境变量。优先级：命令行 > 环境变量 > 文件 > 默认值。
// 返回的 viper 实例给 Watch 用。
func Load(service string, args []string, out io.Writer) (*Config, *viper.Viper, error) {
	fs := NewFlagSet(service, out)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, nil, ErrHelp
		}
		fmt.Fprintln(out, err)
		fs.Usage()
		return nil, nil, xerr.Wrap(err, xerr.Usage, "parse flags")
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(out, "unexpected argument %q\n", fs.Arg(0))
		fs.Usage()
		return nil, nil, xerr.New(xerr.Usage, fmt.Sprintf("unexpected argument %q", fs.Arg(0)))
	}

	v := viper.New()
	setDefaults(v)
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, nil, xerr.Wrap(err, xerr.Internal, "bind flag "+flag)
		}
	}

	// 环境变量覆盖，例如 MARKET_PRICE_HOSTNAME、MARKET_PRICE_LOG_LEVEL
	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(service, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file, _ := fs.GetString("config")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		// 约定：config/{service}.yaml，没有也没关系
		v.SetConfigName(service)
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, nil, xerr.Wrap(err, xerr.Config, "read config")
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, xerr.Wrap(err, xerr.Config, "decode config")
	}
	if cfg.Position == "" {
		cfg.Position = common.LocalIPv4()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch 配置文件变更时重新解析并回调；没有使用配置文件时什么都不做
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) bool {
	if v == nil || v.ConfigFileUsed() == "" {
		return false
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return true
}
