package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的缓存存储后端。
const (
	StoreBackendFS     = "fs"
	StoreBackendBadger = "badger"
)

// GlobalConfig 描述全局运行时行为，所有 App 共享同一份参数。
type GlobalConfig struct {
	ListenPort          int      `mapstructure:"ListenPort"`
	LogLevel            string   `mapstructure:"LogLevel"`
	LogFilePath         string   `mapstructure:"LogFilePath"`
	LogMaxSize          int      `mapstructure:"LogMaxSize"`
	LogMaxBackups       int      `mapstructure:"LogMaxBackups"`
	LogCompress         bool     `mapstructure:"LogCompress"`
	StoragePath         string   `mapstructure:"StoragePath"`
	StoreBackend        string   `mapstructure:"StoreBackend"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`
	DownloadConcurrency int      `mapstructure:"DownloadConcurrency"`
}

// AppConfig 描述一个被离线缓存托管的静态 Web 应用。
type AppConfig struct {
	// Name 同时作为缓存命名空间，必须唯一。
	Name   string `mapstructure:"Name"`
	Domain string `mapstructure:"Domain"`
	// Origin 是应用静态资源的源站地址。
	Origin string `mapstructure:"Origin"`
	// Manifest 指向构建产物中的资源清单（YAML/JSON）。
	Manifest      string `mapstructure:"Manifest"`
	WatchManifest bool   `mapstructure:"WatchManifest"`
	// ManualActivation 为 true 时新版本安装后进入 waiting，直到收到 skipWaiting 消息。
	ManualActivation bool `mapstructure:"ManualActivation"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Apps   []AppConfig  `mapstructure:"App"`
}

// ActivationMode 输出 `auto` 或 `manual`，供日志字段使用。
func (a AppConfig) ActivationMode() string {
	if a.ManualActivation {
		return "manual"
	}
	return "auto"
}

// AppSummaries 返回所有 App 的激活模式摘要，例如 shop:auto。
func AppSummaries(apps []AppConfig) []string {
	if len(apps) == 0 {
		return nil
	}
	result := make([]string, len(apps))
	for i, app := range apps {
		result[i] = fmt.Sprintf("%s:%s", app.Name, app.ActivationMode())
	}
	return result
}
