package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/rosclient/internal/registry"
)

type fileConfig struct {
	ListenAddr    string         `toml:"listen_addr"`
	AdvertiseHost string         `toml:"advertise_host"`
	MasterID      string         `toml:"master_id"`
	CORSOrigins   []string       `toml:"cors_origins"`
	Debug         bool           `toml:"debug"`
	LogLevel      string         `toml:"log_level"`
	RedisAddr     string         `toml:"redis_addr"`
	RedisPassword string         `toml:"redis_password"`
	RedisDB       int            `toml:"redis_db"`
	RedisPrefix   string         `toml:"redis_prefix"`
	RobotName     string         `toml:"robot_name"`
	MapSaver      bool           `toml:"map_saver"`
	MapDir        string         `toml:"map_dir"`
	Params        map[string]any `toml:"params"`
}

type masterConfig struct {
	Server        registry.ServerConfig
	LogLevel      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	// RobotName is published as /robot/name and namespaces the map saver.
	RobotName string
	MapSaver  bool
	MapDir    string
	// Params are written to the parameter server at startup.
	Params map[string]any
}

func defaultMasterConfig() masterConfig {
	return masterConfig{
		Server:   registry.DefaultServerConfig(),
		LogLevel: "info",
		MapDir:   "maps",
		Params:   map[string]any{},
	}
}

func loadMasterConfig(path string) (masterConfig, error) {
	cfg := defaultMasterConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return masterConfig{}, fmt.Errorf("load masterctl config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		if addr := strings.TrimSpace(raw.ListenAddr); addr != "" {
			cfg.Server.ListenAddr = addr
		}
	}
	if meta.IsDefined("advertise_host") {
		cfg.Server.AdvertiseHost = strings.TrimSpace(raw.AdvertiseHost)
	}
	if meta.IsDefined("master_id") {
		if id := strings.TrimSpace(raw.MasterID); id != "" {
			cfg.Server.MasterID = id
		}
	}
	if meta.IsDefined("cors_origins") {
		cfg.Server.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("debug") {
		cfg.Server.Debug = raw.Debug
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
		if raw.RedisDB < 0 {
			return masterConfig{}, fmt.Errorf("invalid redis_db: %d", raw.RedisDB)
		}
		cfg.RedisDB = raw.RedisDB
	}
	if meta.IsDefined("redis_prefix") {
		cfg.RedisPrefix = strings.TrimSpace(raw.RedisPrefix)
	}
	if meta.IsDefined("robot_name") {
		cfg.RobotName = strings.Trim(strings.TrimSpace(raw.RobotName), "/")
	}
	if meta.IsDefined("map_saver") {
		cfg.MapSaver = raw.MapSaver
	}
	if meta.IsDefined("map_dir") {
		if dir := strings.TrimSpace(raw.MapDir); dir != "" {
			cfg.MapDir = dir
		}
	}
	if meta.IsDefined("params") {
		for k, v := range raw.Params {
			cfg.Params[registry.CanonicalKey(k)] = v
		}
	}

	return cfg, nil
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
