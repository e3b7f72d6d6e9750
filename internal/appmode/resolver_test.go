package appmode

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/rosclient/internal/execution"
	"github.com/danmuck/rosclient/internal/graph"
	"github.com/danmuck/rosclient/internal/registry"
	"github.com/danmuck/rosclient/internal/testutil/testlog"
	"github.com/danmuck/rosclient/internal/tools"
	"pgregory.net/rapid"
)

func newService(t testing.TB) *execution.Service {
	t.Helper()
	cfg := execution.DefaultConfig()
	cfg.LockPath = filepath.Join(t.TempDir(), "rosclient.lock")
	cfg.MasterStartTimeout = 3 * time.Second
	svc := execution.NewServiceWithConfig(cfg)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Shutdown)
	if _, err := svc.StartLocalMaster(context.Background(), true); err != nil {
		t.Fatalf("start master: %v", err)
	}
	return svc
}

type recordingNode struct {
	name string

	mu      sync.Mutex
	startAt time.Time
	started chan struct{}
	conn    *graph.Conn
}

func newRecordingNode(name string) *recordingNode {
	return &recordingNode{name: name, started: make(chan struct{})}
}

func (n *recordingNode) DefaultName() string { return n.name }

func (n *recordingNode) OnStart(ctx context.Context, conn *graph.Conn) error {
	n.mu.Lock()
	n.startAt = time.Now()
	n.conn = conn
	n.mu.Unlock()
	close(n.started)
	<-ctx.Done()
	return nil
}

func (n *recordingNode) OnShutdown() {}

func (n *recordingNode) startedAt() (time.Time, *graph.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.startAt, n.conn
}

type fatalHelper interface {
	Helper()
	Fatalf(format string, args ...any)
}

func waitStarted(t fatalHelper, n *recordingNode) {
	t.Helper()
	select {
	case <-n.started:
	case <-time.After(3 * time.Second):
		t.Fatalf("node %s never started", n.name)
	}
}

func TestResolverStandaloneInit(t *testing.T) {
	testlog.Start(t)
	svc := newService(t)
	ep, _ := svc.MasterEndpoint()
	if err := registry.NewClient(ep).SetParam(context.Background(), "/robot/name", "kobuki"); err != nil {
		t.Fatalf("set robot name: %v", err)
	}

	l, err := ParseLaunch(Args{Remappings: "pose: ~pose_out"}, "make_a_map")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := NewResolver(l, Options{DefaultMasterName: "robot"})
	if !r.MasterOverride().IsZero() {
		t.Fatalf("standalone should not override the master")
	}
	dep := newRecordingNode("map_view")
	r.AddDependent(dep, "")

	if err := r.Init(context.Background(), svc); err != nil {
		t.Fatalf("init: %v", err)
	}
	if ns := r.NameResolver(); ns == nil || ns.Namespace() != "/kobuki" {
		t.Fatalf("unexpected namespace resolver: %v", ns)
	}
	if r.Dashboard().RobotName() != "kobuki" {
		t.Fatalf("dashboard robot name = %s", r.Dashboard().RobotName())
	}

	waitStarted(t, dep)
	_, conn := dep.startedAt()
	if conn.Name() != "/kobuki/map_view" {
		t.Fatalf("dependent not started in namespace: %s", conn.Name())
	}
	if got := conn.Resolver().Resolve("pose"); got != "/kobuki/map_view/pose_out" {
		t.Fatalf("remapping not applied to dependent: %s", got)
	}

	names := map[string]bool{}
	for _, h := range svc.Running() {
		names[h.Name()] = true
	}
	for _, want := range []string{"/masterNameResolver", "/kobuki/dashboard", "/kobuki/map_view"} {
		if !names[want] {
			t.Fatalf("missing running node %s in %v", want, names)
		}
	}
}

func TestResolverManagedModesUseMasterDescription(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		mode  string
		robot string
	}{
		{mode: "paired", robot: "kobuki"},
		{mode: "concert", robot: "turtle"},
	}
	for _, tc := range cases {
		t.Run(tc.mode, func(t *testing.T) {
			svc := newService(t)
			ep, _ := svc.MasterEndpoint()
			l, err := ParseLaunch(Args{
				ModeTag:           tc.mode,
				MasterDescription: fmt.Sprintf("master_uri: %s\nmaster_name: turtle\nmaster_type: kobuki\n", ep.String()),
			}, "app")
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			r := NewResolver(l, Options{})
			if r.MasterOverride() != ep {
				t.Fatalf("override = %v, want %v", r.MasterOverride(), ep)
			}
			if err := r.Init(context.Background(), svc); err != nil {
				t.Fatalf("init: %v", err)
			}
			if r.NameResolverNode().Namespace() != "/turtle" {
				t.Fatalf("namespace = %s", r.NameResolverNode().Namespace())
			}
			if r.Dashboard().RobotName() != tc.robot {
				t.Fatalf("robot name = %s, want %s", r.Dashboard().RobotName(), tc.robot)
			}
		})
	}
}

func TestResolverInitFailsWhenResolverStopped(t *testing.T) {
	testlog.Start(t)
	svc := newService(t)
	r := NewResolver(Launch{Mode: Standalone}, Options{DefaultMasterName: "robot"})
	r.NameResolverNode().OnShutdown()
	dep := newRecordingNode("map_view")
	r.AddDependent(dep, "")

	err := r.Init(context.Background(), svc)
	if !errors.Is(err, ErrResolverNotReady) {
		t.Fatalf("expected ErrResolverNotReady, got %v", err)
	}
	select {
	case <-dep.started:
		t.Fatalf("dependent started without a resolved namespace")
	case <-time.After(100 * time.Millisecond):
	}
	if !r.Dashboard().StartedAt().IsZero() {
		t.Fatalf("dashboard started without a resolved namespace")
	}
}

func TestResolverManagedWithoutDescriptionIsConfigError(t *testing.T) {
	testlog.Start(t)
	svc := newService(t)
	r := NewResolver(Launch{Mode: PairedExternal}, Options{})
	if err := r.Init(context.Background(), svc); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestResolverReleaseNodes(t *testing.T) {
	testlog.Start(t)
	svc := newService(t)
	r := NewResolver(Launch{Mode: Standalone}, Options{DefaultMasterName: "robot"})
	if err := r.ReleaseDashboardNode(); err != nil {
		t.Fatalf("release before init: %v", err)
	}
	if err := r.Init(context.Background(), svc); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := r.ReleaseDashboardNode(); err != nil {
		t.Fatalf("release dashboard: %v", err)
	}
	if err := r.ReleaseResolverNode(); err != nil {
		t.Fatalf("release resolver: %v", err)
	}
	if err := r.ReleaseResolverNode(); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
	if n := len(svc.Running()); n != 0 {
		t.Fatalf("expected no running nodes, got %d", n)
	}
	if !svc.Alive() {
		t.Fatalf("releasing nodes must not shut the service down")
	}
}

func TestResolverBack(t *testing.T) {
	testlog.Start(t)

	r := NewResolver(Launch{Mode: Standalone}, Options{})
	res, err := r.Back(context.Background())
	if err != nil || !res.Exit || res.Handoff != nil {
		t.Fatalf("standalone back should exit: %+v %v", res, err)
	}

	var gotName string
	var gotArgs []string
	runner := tools.RunnerFunc(func(_ context.Context, name string, args ...string) (tools.Result, error) {
		gotName, gotArgs = name, args
		return tools.Result{}, nil
	})
	l, err := ParseLaunch(Args{
		ModeTag:           "paired",
		MasterDescription: "master_uri: http://10.0.0.2:11311\nmaster_name: turtle\n",
		ManagerCommand:    "remocon",
	}, "app")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r = NewResolver(l, Options{Runner: runner})
	res, err = r.Back(context.Background())
	if err != nil {
		t.Fatalf("back: %v", err)
	}
	if res.Exit || res.Handoff == nil || res.Handoff.AppNameKey != "paired_app_name" || res.Handoff.AppName != ChooserAppName {
		t.Fatalf("unexpected handoff: %+v", res)
	}
	if gotName != "remocon" || len(gotArgs) != 2 || gotArgs[0] != "--paired_app_name=AppChooser" {
		t.Fatalf("unexpected manager invocation: %s %v", gotName, gotArgs)
	}
}

func TestResolverBackReportsRunnerFailure(t *testing.T) {
	testlog.Start(t)
	runner := tools.RunnerFunc(func(context.Context, string, ...string) (tools.Result, error) {
		return tools.Result{ExitCode: 2}, errors.New("exit status 2")
	})
	r := NewResolver(Launch{
		Mode:           ConcertExternal,
		Master:         &MasterDescription{MasterURI: "http://10.0.0.2:11311/"},
		ManagerCommand: "remocon",
	}, Options{Runner: runner})
	res, err := r.Back(context.Background())
	if err == nil {
		t.Fatalf("expected runner failure")
	}
	if res.Handoff == nil || res.Exit {
		t.Fatalf("handoff data should still be returned: %+v", res)
	}
}

func TestPropertyDependentsStartAfterResolverReady(t *testing.T) {
	testlog.Start(t)
	svc := newService(t)
	ep, _ := svc.MasterEndpoint()
	client := registry.NewClient(ep)

	rapid.Check(t, func(rt *rapid.T) {
		deps := rapid.IntRange(0, 4).Draw(rt, "dependents")
		robotParam := rapid.Bool().Draw(rt, "robot_param")
		if robotParam {
			_ = client.SetParam(context.Background(), "/robot/name", "param_robot")
		} else {
			_ = client.DeleteParam(context.Background(), "/robot/name")
		}

		r := NewResolver(Launch{Mode: Standalone}, Options{DefaultMasterName: "robot"})
		nodes := make([]*recordingNode, deps)
		for i := range nodes {
			nodes[i] = newRecordingNode(fmt.Sprintf("dep%d", i))
			r.AddDependent(nodes[i], "")
		}
		defer func() {
			for _, n := range nodes {
				_ = svc.ShutdownNode(n)
			}
			_ = r.ReleaseDashboardNode()
			_ = r.ReleaseResolverNode()
		}()

		if err := r.Init(context.Background(), svc); err != nil {
			rt.Fatalf("init: %v", err)
		}
		readyAt := r.NameResolverNode().ReadyAt()
		if readyAt.IsZero() {
			rt.Fatalf("resolver ready time not recorded")
		}
		for _, n := range nodes {
			waitStarted(rt, n)
			startAt, _ := n.startedAt()
			if startAt.Before(readyAt) {
				rt.Fatalf("%s started at %v before resolver ready at %v", n.name, startAt, readyAt)
			}
		}
		deadline := time.Now().Add(3 * time.Second)
		for r.Dashboard().StartedAt().IsZero() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if started := r.Dashboard().StartedAt(); started.IsZero() || started.Before(readyAt) {
			rt.Fatalf("dashboard started at %v, resolver ready at %v", started, readyAt)
		}
	})
}
