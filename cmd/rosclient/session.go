package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/danmuck/rosclient/internal/appmode"
	"github.com/danmuck/rosclient/internal/execution"
	"github.com/danmuck/rosclient/internal/lifecycle"
	"github.com/danmuck/rosclient/internal/mapsave"
	"github.com/danmuck/rosclient/internal/master"
	"github.com/danmuck/rosclient/internal/nodes"
	"github.com/danmuck/rosclient/internal/registry"
	"github.com/rs/zerolog/log"
)

// session wires one client run: controller, mode resolver, nodes and the
// stdin command loop.
type session struct {
	cfg      clientConfig
	launch   appmode.Launch
	lines    <-chan string
	stopScan context.CancelFunc
	out      io.Writer
	outMu    sync.Mutex
	loop     *lifecycle.Loop
	resolver *appmode.Resolver
	ctrl     *lifecycle.Controller
	sys      *nodes.SystemCommands
	pose     *nodes.PosePublisher
	exit     chan int
}

func newSession(cfg clientConfig, opts runOptions, in io.Reader, out io.Writer) (*session, error) {
	launch, err := appmode.ParseLaunch(opts.Launch, cfg.AppName)
	if err != nil {
		return nil, err
	}
	if opts.Host != "" {
		cfg.Service.Hostname = opts.Host
	}
	if cfg.RedisAddr != "" {
		var ropts []registry.RedisOption
		if cfg.RedisPrefix != "" {
			ropts = append(ropts, registry.WithKeyPrefix(cfg.RedisPrefix))
		}
		cfg.Service.ParamStore = registry.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, ropts...)
	}

	scanCtx, stopScan := context.WithCancel(context.Background())
	s := &session{
		cfg:      cfg,
		launch:   launch,
		lines:    lifecycle.ScanLines(scanCtx, in),
		stopScan: stopScan,
		out:      out,
		loop:     lifecycle.NewLoop(64),
		exit:     make(chan int, 1),
	}

	s.resolver = appmode.NewResolver(launch, appmode.Options{
		DefaultMasterName: cfg.DefaultMasterName,
		ResolverTimeout:   cfg.ResolverTimeout,
	})
	s.sys = nodes.NewSystemCommands()
	s.pose = nodes.NewPosePublisher(nodes.PoseConfig{
		MapFrame:   launch.Params.String("map_frame", "map"),
		RobotFrame: launch.Params.String("robot_frame", "base_footprint"),
	})
	s.resolver.AddDependent(s.sys, "")
	s.resolver.AddDependent(s.pose, "")

	chooser, err := s.chooser(opts)
	if err != nil {
		stopScan()
		return nil, err
	}
	s.ctrl, err = lifecycle.New(lifecycle.Options{
		Binder:         lifecycle.LocalBinder{Config: cfg.Service},
		Chooser:        chooser,
		Initializer:    s.resolver,
		Dispatcher:     s.loop,
		MasterOverride: s.resolver.MasterOverride(),
		Hooks: lifecycle.Hooks{
			OnState: func(st lifecycle.State) {
				s.printf("session %s", st)
			},
			OnError: func(err error) {
				s.printf("error: %s", userMessage(err))
			},
			Teardown: func() {
				s.printf("session closed")
			},
			Exit: s.finish,
		},
	})
	if err != nil {
		stopScan()
		return nil, err
	}
	return s, nil
}

func (s *session) chooser(opts runOptions) (lifecycle.Chooser, error) {
	switch {
	case opts.Master != "":
		ep, err := master.ParseEndpoint(opts.Master)
		if err != nil {
			return nil, withCode(2, fmt.Errorf("%s: %w", master.FailureInvalidAddress.Message(), err))
		}
		choice := lifecycle.ExistingMaster(ep)
		choice.Hostname = opts.Host
		return lifecycle.StaticChooser{Choice: choice}, nil
	case opts.NewMaster:
		choice := lifecycle.NewMaster(opts.Private)
		choice.Hostname = opts.Host
		return lifecycle.StaticChooser{Choice: choice}, nil
	default:
		return &lifecycle.TerminalChooser{
			Lines:    s.lines,
			Out:      s.out,
			Probe:    lifecycle.RegistryProbe(s.cfg.ProbeTimeout),
			Hostname: opts.Host,
		}, nil
	}
}

// run blocks until the session exits and returns the process exit code.
func (s *session) run(ctx context.Context) (int, error) {
	defer s.stopScan()
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()
	go s.loop.Run(loopCtx)
	defer s.loop.Stop()

	if err := s.ctrl.Start(ctx); err != nil {
		return 1, err
	}

	ready := s.ctrl.Ready()
	interrupted := ctx.Done()
	for {
		select {
		case code := <-s.exit:
			return code, nil
		case <-ready:
			ready = nil
			s.printf("namespace %s ready, type help for commands", s.resolver.NameResolver().Namespace())
			go s.commands(loopCtx)
		case <-interrupted:
			interrupted = nil
			log.Info().Msg("rosclient.session interrupted, shutting down")
			if svc := s.ctrl.Service(); svc != nil {
				svc.Shutdown()
			} else {
				return 1, ctx.Err()
			}
		}
	}
}

func (s *session) finish(code int) {
	select {
	case s.exit <- code:
	default:
	}
}

func (s *session) commands(ctx context.Context) {
	svc := s.ctrl.Service()
	ep, _ := svc.MasterEndpoint()
	saver := s.newSaver(ep, svc.Alive)
	svc.SetConfirmHook(func() bool {
		s.printf("shut down the session? [y/N]")
		line, ok := <-s.lines
		return ok && strings.EqualFold(strings.TrimSpace(line), "y")
	})

	for {
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-s.lines:
			if !ok {
				svc.RequestShutdown(false)
				return
			}
			line = l
		}
		if !s.command(ctx, svc, saver, strings.Fields(line)) {
			return
		}
	}
}

// newSaver remaps the save service name once; the namespace resolver it gets
// carries no remappings of its own.
func (s *session) newSaver(ep master.Endpoint, alive func() bool) *mapsave.Coordinator {
	saver := mapsave.New(
		mapsave.MasterLocator(registry.NewClient(ep)),
		mapsave.WithTimeout(s.cfg.SaveTimeout),
		mapsave.WithAlive(alive),
		mapsave.WithRemappings(s.launch.Remaps),
	)
	saver.SetNameResolver(s.resolver.NameResolverNode().NameResolver(nil))
	return saver
}

// command runs one stdin command and reports whether to keep reading.
func (s *session) command(ctx context.Context, svc *execution.Service, saver *mapsave.Coordinator, fields []string) bool {
	if len(fields) == 0 {
		return true
	}
	switch fields[0] {
	case "help":
		s.printf("commands: save <name> | reset | geotiff | pose <x> <y> <theta> | goal <x> <y> <theta> | status | back | quit | quit!")
	case "save":
		if len(fields) != 2 {
			s.printf("usage: save <name>")
			return true
		}
		name := fields[1]
		s.printf("saving map %s via %s", name, saver.ResolvedServiceName())
		go saver.SaveMap(ctx, name, mapsave.Callbacks{
			OnSuccess: func(r mapsave.Response) {
				s.loop.Post(func() { s.printf("map %s saved %s", name, r.Path) })
			},
			OnFailure: func(err error) {
				s.loop.Post(func() { s.printf("map %s not saved: %s", name, userMessage(err)) })
			},
			OnTimeout: func() {
				s.loop.Post(func() { s.printf("map %s: save timed out", name) })
			},
		})
	case "reset":
		s.report("reset", s.sys.Reset(ctx))
	case "geotiff":
		s.report("geotiff", s.sys.SaveGeotiff(ctx))
	case "pose", "goal":
		x, y, th, err := parsePose(fields[1:])
		if err != nil {
			s.printf("usage: %s <x> <y> <theta>: %v", fields[0], err)
			return true
		}
		if fields[0] == "pose" {
			s.report("pose", s.pose.SetPose(ctx, x, y, th))
		} else {
			s.report("goal", s.pose.SetGoal(ctx, x, y, th))
		}
	case "status":
		st := s.resolver.Dashboard().Status()
		s.printf("robot %s level %d: %s", st.RobotName, st.Level, st.Summary)
	case "back":
		res, err := s.resolver.Back(ctx)
		if err != nil {
			s.printf("error: %s", userMessage(err))
		}
		if res.Exit {
			svc.RequestShutdown(false)
			return false
		}
		s.printf("control returned to the %s manager", s.launch.Mode)
		s.ctrl.Close()
		s.finish(0)
		return false
	case "quit":
		return !svc.RequestShutdown(true)
	case "quit!":
		svc.RequestShutdown(false)
		return false
	default:
		s.printf("unknown command %q, type help", fields[0])
	}
	return true
}

func (s *session) report(what string, err error) {
	if err != nil {
		s.printf("%s failed: %s", what, userMessage(err))
		return
	}
	s.printf("%s sent", what)
}

func (s *session) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

func parsePose(args []string) (x, y, theta float64, err error) {
	if len(args) != 3 {
		return 0, 0, 0, errors.New("need three numbers")
	}
	var v [3]float64
	for i, a := range args {
		if v[i], err = strconv.ParseFloat(a, 64); err != nil {
			return 0, 0, 0, err
		}
	}
	return v[0], v[1], v[2], nil
}

// userMessage turns an error into the short text shown to the user.
func userMessage(err error) string {
	var connErr *master.ConnectError
	var startErr *execution.MasterStartError
	var cfgErr *appmode.ConfigError
	switch {
	case errors.As(err, &connErr):
		return connErr.Kind.Message()
	case errors.Is(err, master.ErrInvalidAddress):
		return master.FailureInvalidAddress.Message()
	case errors.As(err, &startErr):
		return fmt.Sprintf("unable to start a local master on %s", startErr.Addr)
	case errors.As(err, &cfgErr):
		return cfgErr.Error()
	case errors.Is(err, appmode.ErrResolverNotReady):
		return "robot name could not be resolved"
	case errors.Is(err, registry.ErrServiceNotFound):
		return "service not available"
	case errors.Is(err, nodes.ErrNotConnected):
		return "node not started yet"
	default:
		return err.Error()
	}
}
