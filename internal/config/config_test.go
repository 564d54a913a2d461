package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("UpstreamTimeout 应被解析为 15s，得到 %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应被转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Global.StoreBackend != StoreBackendFS {
		t.Fatalf("StoreBackend 默认应为 fs，得到 %s", cfg.Global.StoreBackend)
	}
	if cfg.Global.DownloadConcurrency != 4 {
		t.Fatalf("DownloadConcurrency 默认应为 4，得到 %d", cfg.Global.DownloadConcurrency)
	}
	if len(cfg.Apps) != 1 {
		t.Fatalf("应解析出 1 个 App，得到 %d", len(cfg.Apps))
	}
	app := cfg.Apps[0]
	if app.Manifest != filepath.Join("testdata", "shop-manifest.yaml") {
		t.Fatalf("相对 Manifest 路径应基于配置目录，得到 %s", app.Manifest)
	}
	if !app.WatchManifest {
		t.Fatalf("WatchManifest 应为 true")
	}
	if app.ActivationMode() != "auto" {
		t.Fatalf("默认激活模式应为 auto")
	}
}

func TestValidateRejectsBadApp(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestStoreBackendValidation(t *testing.T) {
	testCases := []struct {
		name      string
		backend   string
		shouldErr bool
	}{
		{"fs ok", "fs", false},
		{"badger ok", "badger", false},
		{"unsupported", "redis", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.StoreBackend = tc.backend
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for backend %q", tc.backend)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for backend %q: %v", tc.backend, err)
			}
		})
	}
}

func TestOriginValidation(t *testing.T) {
	testCases := []struct {
		name      string
		origin    string
		shouldErr bool
	}{
		{"https ok", "https://static.example.com", false},
		{"with path ok", "http://127.0.0.1:8080/app", false},
		{"missing", "", true},
		{"ftp", "ftp://static.example.com", true},
		{"query", "https://static.example.com/?v=1", true},
		{"no host", "https://", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Apps[0].Origin = tc.origin
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for origin %q", tc.origin)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for origin %q: %v", tc.origin, err)
			}
		})
	}
}

func TestValidateRejectsDuplicateNamesAndDomains(t *testing.T) {
	cfg := validConfig()
	dup := cfg.Apps[0]
	dup.Domain = "other.local"
	cfg.Apps = append(cfg.Apps, dup)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复 Name 应报错")
	}

	cfg = validConfig()
	dup = cfg.Apps[0]
	dup.Name = "other"
	cfg.Apps = append(cfg.Apps, dup)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复 Domain 应报错")
	}
}

func TestValidateRejectsPathLikeNames(t *testing.T) {
	cfg := validConfig()
	cfg.Apps[0].Name = "../escape"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("包含路径分隔符的 Name 应报错")
	}
	if _, ok := err.(FieldError); !ok {
		t.Fatalf("应返回 FieldError，得到 %T", err)
	}
}

func TestAppSummaries(t *testing.T) {
	apps := []AppConfig{{Name: "a"}, {Name: "b", ManualActivation: true}}
	got := AppSummaries(apps)
	if len(got) != 2 || got[0] != "a:auto" || got[1] != "b:manual" {
		t.Fatalf("unexpected summaries: %v", got)
	}
	if AppSummaries(nil) != nil {
		t.Fatalf("空列表应返回 nil")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:          5000,
			StoragePath:         "./data",
			StoreBackend:        StoreBackendFS,
			UpstreamTimeout:     Duration(time.Second),
			DownloadConcurrency: 2,
		},
		Apps: []AppConfig{
			{
				Name:     "shop",
				Domain:   "shop.local",
				Origin:   "https://static.example.com",
				Manifest: "manifest.yaml",
			},
		},
	}
}
