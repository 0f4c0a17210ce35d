// Package config loads the gateway's TOML configuration file and applies
// the environment overrides the process needs at boot (MASTER_TOKEN, the
// Postgres/Redis DSNs).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the root configuration document, decoded from Config.toml.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	API        APIConfig        `toml:"api"`
	Browser    BrowserConfig    `toml:"browser"`
	ReqSession ReqSessionConfig `toml:"req_session"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	Logging    LoggingConfig    `toml:"logging"`

	// MasterToken is never read from the TOML file; it is injected from
	// the MASTER_TOKEN environment variable at Load time and omitted from
	// the public view returned by GET /config.
	MasterToken string `toml:"-"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type TestTokenConfig struct {
	TTL     int64 `toml:"ttl"`
	TCLimit int   `toml:"tc_limit"`
	OpLimit int   `toml:"op_limit"`
}

type APIConfig struct {
	RootAPIPath           string          `toml:"root_api_path"`
	AssetsPath            string          `toml:"assets_path"`
	HandlersCount         int             `toml:"handlers_count"`
	HandlerQueueLimit     int             `toml:"handler_queue_limit"`
	TaskWSSendingInterval int             `toml:"task_ws_sending_interval"` // ms
	OpenWSLimit           int             `toml:"open_ws_limit"`
	TestToken             TestTokenConfig `toml:"test_token"`
	InterruptCheckStep    int             `toml:"interrupt_check_step"`
	AvailableMarkets      []string        `toml:"available_markets"`
}

type BrowserTimings struct {
	LaunchSleep     int `toml:"launch_sleep"`      // ms
	SetProxySleep   int `toml:"set_proxy_sleep"`   // ms
	ActionSleep     int `toml:"action_sleep"`       // ms
	PageGotoTimeout int `toml:"page_goto_timeout"` // ms
}

type SymbolPageParam struct {
	WaitForEl      string `toml:"wait_for_el"`
	WaitForElUntil int    `toml:"wait_for_el_until"` // ms
}

type BrowserPageParam struct {
	RandUserAgent     bool                       `toml:"rand_user_agent"`
	WaitForElTimeout  int                        `toml:"wait_for_el_timeout"` // ms
	Symbol            map[string]SymbolPageParam `toml:"symbol"`
}

type BrowserConfig struct {
	HeadlessMod    bool             `toml:"headless_mod"`
	Sandbox        bool             `toml:"sandbox"`
	Incognito      bool             `toml:"incognito"`
	LaunchTimeout  int              `toml:"launch_timeout"`  // ms
	RequestTimeout int              `toml:"request_timeout"` // ms
	CacheEnabled   bool             `toml:"cache_enabled"`
	Timings        BrowserTimings   `toml:"timings"`
	PageParam      BrowserPageParam `toml:"page_param"`
}

type ReqTimings struct {
	Timeout     int `toml:"timeout"`      // ms
	ConnTimeout int `toml:"conn_timeout"` // ms
	ReadTimeout int `toml:"read_timeout"` // ms
}

type ReqSessionConfig struct {
	SetProxyInterval  int        `toml:"set_proxy_interval"`
	CloseTabsInterval int        `toml:"close_tabs_interval"`
	LaunchSleep       int        `toml:"launch_sleep"` // ms
	Timings           ReqTimings `toml:"timings"`
}

type DatabaseConfig struct {
	URL              string `toml:"url"`
	MaxOpenConns     int    `toml:"max_open_conns"`
	MaxIdleConns     int    `toml:"max_idle_conns"`
	ConnMaxLifetime  int    `toml:"conn_max_lifetime"` // seconds
	MigrationsPath   string `toml:"migrations_path"`
}

type RedisConfig struct {
	URL            string `toml:"url"`              // empty disables the cache/counter backend
	DialTimeout    int    `toml:"dial_timeout"`      // ms
	ResultCacheTTL int    `toml:"result_cache_ttl"` // ms, grace window for a terminal Task read-through
}

type LoggingConfig struct {
	Level       string `toml:"level"`
	Environment string `toml:"environment"`
	FilePath    string `toml:"file_path"`
}

// Default returns the configuration the original implementation shipped
// when no Config.toml is present.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 5500},
		API: APIConfig{
			RootAPIPath:           "/api/v1",
			AssetsPath:            "assets",
			HandlersCount:         1,
			HandlerQueueLimit:     10,
			TaskWSSendingInterval: 1000,
			OpenWSLimit:           20,
			TestToken:             TestTokenConfig{TTL: 86400, TCLimit: 40, OpLimit: 1},
			InterruptCheckStep:    60,
			AvailableMarkets:      []string{"oz", "wb", "ym", "mm"},
		},
		Browser: BrowserConfig{
			HeadlessMod:    true,
			Sandbox:        false,
			Incognito:      true,
			LaunchTimeout:  15000,
			RequestTimeout: 20000,
			CacheEnabled:   false,
			Timings: BrowserTimings{
				LaunchSleep:     700,
				SetProxySleep:   300,
				ActionSleep:     200,
				PageGotoTimeout: 15000,
			},
			PageParam: BrowserPageParam{
				RandUserAgent:    true,
				WaitForElTimeout: 5000,
				Symbol:           map[string]SymbolPageParam{},
			},
		},
		ReqSession: ReqSessionConfig{
			SetProxyInterval:  14,
			CloseTabsInterval: 40,
			LaunchSleep:       700,
			Timings:           ReqTimings{Timeout: 700, ConnTimeout: 500, ReadTimeout: 500},
		},
		Database: DatabaseConfig{
			MaxOpenConns:   10,
			MaxIdleConns:   5,
			ConnMaxLifetime: 1800,
			MigrationsPath: "file://internal/store/migrations",
		},
		Redis:   RedisConfig{ResultCacheTTL: 2000},
		Logging: LoggingConfig{Level: "info", Environment: "development"},
	}
}

// Load reads path (writing the default document if it does not exist, per
// the original implementation's boot behavior), then applies the
// MASTER_TOKEN environment override. Load aborts the caller's intent by
// returning an error when MASTER_TOKEN is unset — callers must treat that
// as fatal, per the external-interface exit-behavior contract.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		defaulted, marshalErr := toml.Marshal(cfg)
		if marshalErr != nil {
			return Config{}, fmt.Errorf("marshal default config: %w", marshalErr)
		}
		if writeErr := os.WriteFile(path, defaulted, 0o644); writeErr != nil {
			return Config{}, fmt.Errorf("write default config to %s: %w", path, writeErr)
		}
	} else if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	} else {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	master, ok := os.LookupEnv("MASTER_TOKEN")
	if !ok || master == "" {
		return Config{}, fmt.Errorf("MASTER_TOKEN environment variable is required")
	}
	cfg.MasterToken = master

	if url, ok := os.LookupEnv("DATABASE_URL"); ok && url != "" {
		cfg.Database.URL = url
	}
	if url, ok := os.LookupEnv("REDIS_URL"); ok && url != "" {
		cfg.Redis.URL = url
	}

	return cfg, nil
}

// Public returns the view of Config safe to expose via GET /config: the
// original implementation's pub_env/env split, applied here by simply
// omitting MasterToken and any DSN credentials.
func (c Config) Public() map[string]interface{} {
	return map[string]interface{}{
		"server":      c.Server,
		"api":         c.API,
		"browser":     c.Browser,
		"req_session": c.ReqSession,
	}
}

// WSSendingInterval returns TaskWSSendingInterval as a time.Duration.
func (c APIConfig) WSSendingInterval() time.Duration {
	return time.Duration(c.TaskWSSendingInterval) * time.Millisecond
}
