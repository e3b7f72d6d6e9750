package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/rosclient/internal/graph"
	"github.com/danmuck/rosclient/internal/logging"
	"github.com/danmuck/rosclient/internal/master"
	"github.com/danmuck/rosclient/internal/observability"
	"github.com/danmuck/rosclient/internal/registry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "masterctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		redisAddr  string
		robotName  string
		mapSaver   bool
		mapDir     string
	)
	cmd := &cobra.Command{
		Use:           "masterctl",
		Short:         "Run a master registry",
		Long:          `masterctl serves the master registry: graph names, services, latched topics and parameters.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			observability.InitLogger("masterctl")
			cfg := defaultMasterConfig()
			if configPath != "" {
				loaded, err := loadMasterConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			f := cmd.Flags()
			if f.Changed("addr") {
				cfg.Server.ListenAddr = addr
			}
			if f.Changed("redis") {
				cfg.RedisAddr = redisAddr
			}
			if f.Changed("robot-name") {
				cfg.RobotName = strings.Trim(strings.TrimSpace(robotName), "/")
			}
			if f.Changed("map-saver") {
				cfg.MapSaver = mapSaver
			}
			if f.Changed("map-dir") {
				cfg.MapDir = mapDir
			}
			if cfg.LogLevel != "" {
				logging.SetLevel(cfg.LogLevel)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMaster(ctx, cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "TOML config file")
	f.StringVar(&addr, "addr", "", "listen address (default 127.0.0.1:11311)")
	f.StringVar(&redisAddr, "redis", "", "Redis address for the parameter store")
	f.StringVar(&robotName, "robot-name", "", "robot name published as /robot/name")
	f.BoolVar(&mapSaver, "map-saver", false, "provide a demo save_map service")
	f.StringVar(&mapDir, "map-dir", "maps", "directory the demo map saver writes to")
	return cmd
}

// runMaster serves until ctx is cancelled.
func runMaster(ctx context.Context, cfg masterConfig) error {
	rt, err := startMaster(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	fmt.Printf("master %s serving %s\n", cfg.Server.MasterID, rt.URI())
	<-ctx.Done()
	log.Info().Msg("masterctl shutting down")
	return nil
}

// masterRuntime is a running registry with its optional store and map saver.
type masterRuntime struct {
	srv   *registry.Server
	store *registry.RedisStore
	exec  *graph.Executor
	saver *mapSaver
}

func startMaster(ctx context.Context, cfg masterConfig) (*masterRuntime, error) {
	rt := &masterRuntime{exec: graph.NewExecutor()}
	if cfg.RedisAddr != "" {
		var opts []registry.RedisOption
		if cfg.RedisPrefix != "" {
			opts = append(opts, registry.WithKeyPrefix(cfg.RedisPrefix))
		}
		rt.store = registry.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts...)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rt.store.Ping(pingCtx)
		cancel()
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		cfg.Server.Store = rt.store
		log.Info().Str("redis", cfg.RedisAddr).Msg("masterctl parameter store on redis")
	}

	rt.srv = registry.NewServer(cfg.Server)
	if err := rt.srv.Start(); err != nil {
		rt.Close()
		return nil, err
	}
	awaitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := rt.srv.AwaitStart(awaitCtx)
	cancel()
	if err != nil {
		rt.Close()
		return nil, err
	}

	if err := seedParams(ctx, registry.NewClient(rt.URI()), cfg); err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.MapSaver {
		ns := "/"
		if cfg.RobotName != "" {
			ns = "/" + cfg.RobotName
		}
		rt.saver = newMapSaver(cfg.MapDir)
		if _, err := rt.exec.Execute(rt.saver, graph.NewPrivateConfig(rt.URI()).WithNamespace(ns)); err != nil {
			rt.Close()
			return nil, fmt.Errorf("start map saver: %w", err)
		}
	}
	return rt, nil
}

func (rt *masterRuntime) URI() master.Endpoint {
	return rt.srv.URI()
}

// Close stops the map saver before the registry so it can unregister.
func (rt *masterRuntime) Close() {
	rt.exec.Shutdown()
	if rt.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("masterctl registry shutdown failed")
		}
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

func seedParams(ctx context.Context, client *registry.Client, cfg masterConfig) error {
	params := make(map[string]any, len(cfg.Params)+1)
	for k, v := range cfg.Params {
		params[k] = v
	}
	if cfg.RobotName != "" {
		params["/robot/name"] = cfg.RobotName
	}
	for key, value := range params {
		if err := client.SetParam(ctx, key, value); err != nil {
			return fmt.Errorf("seed param %s: %w", key, err)
		}
	}
	return nil
}
