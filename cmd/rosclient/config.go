package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/rosclient/internal/execution"
	"github.com/danmuck/rosclient/internal/mapsave"
)

type fileConfig struct {
	Hostname           string   `toml:"hostname"`
	LockPath           string   `toml:"lock_path"`
	MasterPort         int      `toml:"master_port"`
	MasterStartTimeout string   `toml:"master_start_timeout"`
	MasterID           string   `toml:"master_id"`
	CORSOrigins        []string `toml:"cors_origins"`
	DefaultMasterName  string   `toml:"default_master_name"`
	AppName            string   `toml:"app_name"`
	ResolverTimeout    string   `toml:"resolver_timeout"`
	ProbeTimeout       string   `toml:"probe_timeout"`
	SaveTimeout        string   `toml:"save_timeout"`
	Manager            string   `toml:"manager"`
	LogLevel           string   `toml:"log_level"`
	RedisAddr          string   `toml:"redis_addr"`
	RedisPassword      string   `toml:"redis_password"`
	RedisDB            int      `toml:"redis_db"`
	RedisPrefix        string   `toml:"redis_prefix"`
}

type clientConfig struct {
	Service           execution.Config
	DefaultMasterName string
	AppName           string
	ResolverTimeout   time.Duration
	ProbeTimeout      time.Duration
	SaveTimeout       time.Duration
	Manager           string
	LogLevel          string
	// Redis backs the parameters of a local master when RedisAddr is set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		Service:           execution.DefaultConfig(),
		DefaultMasterName: "robot",
		AppName:           "make_a_map",
		ResolverTimeout:   15 * time.Second,
		ProbeTimeout:      5 * time.Second,
		SaveTimeout:       mapsave.DefaultTimeout,
		LogLevel:          "info",
	}
}

func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load rosclient config: %w", err)
	}

	if meta.IsDefined("hostname") {
		cfg.Service.Hostname = strings.TrimSpace(raw.Hostname)
	}
	if meta.IsDefined("lock_path") {
		cfg.Service.LockPath = strings.TrimSpace(raw.LockPath)
	}
	if meta.IsDefined("master_port") {
		if raw.MasterPort <= 0 || raw.MasterPort > 65535 {
			return clientConfig{}, fmt.Errorf("invalid master_port: %d", raw.MasterPort)
		}
		cfg.Service.MasterPort = raw.MasterPort
	}
	if meta.IsDefined("master_start_timeout") {
		d, err := parseDuration("master_start_timeout", raw.MasterStartTimeout)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.Service.MasterStartTimeout = d
	}
	if meta.IsDefined("master_id") {
		if id := strings.TrimSpace(raw.MasterID); id != "" {
			cfg.Service.MasterID = id
		}
	}
	if meta.IsDefined("cors_origins") {
		cfg.Service.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("default_master_name") {
		cfg.DefaultMasterName = strings.TrimSpace(raw.DefaultMasterName)
	}
	if meta.IsDefined("app_name") {
		if name := strings.TrimSpace(raw.AppName); name != "" {
			cfg.AppName = name
		}
	}
	if meta.IsDefined("resolver_timeout") {
		d, err := parseDuration("resolver_timeout", raw.ResolverTimeout)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.ResolverTimeout = d
	}
	if meta.IsDefined("probe_timeout") {
		d, err := parseDuration("probe_timeout", raw.ProbeTimeout)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.ProbeTimeout = d
	}
	if meta.IsDefined("save_timeout") {
		d, err := parseDuration("save_timeout", raw.SaveTimeout)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.SaveTimeout = d
	}
	if meta.IsDefined("manager") {
		cfg.Manager = strings.TrimSpace(raw.Manager)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("redis_addr") {
		cfg.RedisAddr = strings.TrimSpace(raw.RedisAddr)
	}
	if meta.IsDefined("redis_password") {
		cfg.RedisPassword = raw.RedisPassword
	}
	if meta.IsDefined("redis_db") {
		cfg.RedisDB = raw.RedisDB
	}
	if meta.IsDefined("redis_prefix") {
		cfg.RedisPrefix = strings.TrimSpace(raw.RedisPrefix)
	}

	return cfg, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse %s: must be positive", field)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
