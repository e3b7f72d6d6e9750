package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMasterConfigDefaultsAndOverrides(t *testing.T) {
	cfg, err := loadMasterConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:11311" {
		t.Fatalf("unexpected listen addr: %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.AdvertiseHost != "robot.lan" {
		t.Fatalf("unexpected advertise host: %q", cfg.Server.AdvertiseHost)
	}
	if cfg.Server.MasterID != "master.robot" {
		t.Fatalf("unexpected master id: %q", cfg.Server.MasterID)
	}
	if len(cfg.Server.CORSOrigins) != 1 {
		t.Fatalf("unexpected cors origins: %+v", cfg.Server.CORSOrigins)
	}
	if cfg.Server.Debug {
		t.Fatalf("debug should stay off")
	}
	if cfg.RedisAddr != "127.0.0.1:6379" || cfg.RedisDB != 2 || cfg.RedisPrefix != "robot:param:" {
		t.Fatalf("unexpected redis settings: %q %d %q", cfg.RedisAddr, cfg.RedisDB, cfg.RedisPrefix)
	}
	if cfg.RobotName != "turtlebot" {
		t.Fatalf("robot name not trimmed: %q", cfg.RobotName)
	}
	if !cfg.MapSaver || cfg.MapDir != "/var/lib/maps" {
		t.Fatalf("unexpected map saver settings: %v %q", cfg.MapSaver, cfg.MapDir)
	}
	if cfg.Params["/map_frame"] != "map" {
		t.Fatalf("unexpected params: %+v", cfg.Params)
	}
	if cfg.Params["/move_base/max_vel"] != 0.5 {
		t.Fatalf("unexpected params: %+v", cfg.Params)
	}
}

func TestLoadMasterConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("master_id = \" \"\nmap_dir = \"\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadMasterConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := defaultMasterConfig()
	if cfg.Server.MasterID != def.Server.MasterID || cfg.MapDir != def.MapDir || cfg.Server.ListenAddr != def.Server.ListenAddr {
		t.Fatalf("blank values should keep defaults: %+v", cfg)
	}
}

func TestLoadMasterConfigRejectsNegativeDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("redis_db = -1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadMasterConfig(path); err == nil {
		t.Fatalf("expected error")
	}
}
