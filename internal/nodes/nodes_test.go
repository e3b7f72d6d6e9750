package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/danmuck/rosclient/internal/graph"
	"github.com/danmuck/rosclient/internal/master"
	"github.com/danmuck/rosclient/internal/registry"
	"github.com/danmuck/rosclient/internal/testutil/testlog"
)

func startMaster(t *testing.T) master.Endpoint {
	t.Helper()
	srv := registry.NewServer(registry.ServerConfig{ListenAddr: "127.0.0.1:0", MasterID: "nodes.test"})
	if err := srv.Start(); err != nil {
		t.Fatalf("start master: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.AwaitStart(ctx); err != nil {
		t.Fatalf("await master: %v", err)
	}
	return srv.URI()
}

func newExecutor(t *testing.T) *graph.Executor {
	t.Helper()
	exec := graph.NewExecutor()
	t.Cleanup(exec.Shutdown)
	return exec
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitResolver(t *testing.T, r *MasterNameResolver) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.WaitForResolver(ctx); err != nil {
		t.Fatalf("wait for resolver: %v", err)
	}
}

func TestMasterNameResolverExplicitName(t *testing.T) {
	testlog.Start(t)
	ep := startMaster(t)
	exec := newExecutor(t)

	r := NewMasterNameResolver("fallback")
	r.SetMasterName("turtlebot")
	if r.Ready() || r.Namespace() != "/" {
		t.Fatalf("resolver should start unresolved")
	}
	if _, err := exec.Execute(r, graph.NewPrivateConfig(ep)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	waitResolver(t, r)

	if r.Namespace() != "/turtlebot" || r.MasterName() != "turtlebot" {
		t.Fatalf("unexpected namespace %q name %q", r.Namespace(), r.MasterName())
	}
	if r.ReadyAt().IsZero() {
		t.Fatalf("ready time not recorded")
	}
	if got := r.NameResolver(nil).Resolve("diagnostics_agg"); got != "/turtlebot/diagnostics_agg" {
		t.Fatalf("resolve = %s", got)
	}
}

func TestMasterNameResolverReadsRobotParam(t *testing.T) {
	testlog.Start(t)
	ep := startMaster(t)
	if err := registry.NewClient(ep).SetParam(context.Background(), RobotNameParam, "kobuki"); err != nil {
		t.Fatalf("set param: %v", err)
	}
	exec := newExecutor(t)

	r := NewMasterNameResolver("fallback")
	if _, err := exec.Execute(r, graph.NewPrivateConfig(ep)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	waitResolver(t, r)
	if r.Namespace() != "/kobuki" {
		t.Fatalf("namespace = %s", r.Namespace())
	}
}

func TestMasterNameResolverFallsBackToDefault(t *testing.T) {
	testlog.Start(t)
	ep := startMaster(t)
	exec := newExecutor(t)

	r := NewMasterNameResolver("fallback")
	if _, err := exec.Execute(r, graph.NewPrivateConfig(ep)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	waitResolver(t, r)
	if r.Namespace() != "/fallback" {
		t.Fatalf("namespace = %s", r.Namespace())
	}
}

func TestMasterNameResolverStoppedNeverReady(t *testing.T) {
	testlog.Start(t)
	r := NewMasterNameResolver("")
	r.OnShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.WaitForResolver(ctx); !errors.Is(err, ErrResolverStopped) {
		t.Fatalf("expected ErrResolverStopped, got %v", err)
	}
	if err := r.OnStart(context.Background(), nil); !errors.Is(err, ErrResolverStopped) {
		t.Fatalf("expected stopped resolver to refuse start, got %v", err)
	}
	if r.Ready() {
		t.Fatalf("stopped resolver became ready")
	}
}

func TestMasterNameResolverWaitHonoursContext(t *testing.T) {
	testlog.Start(t)
	r := NewMasterNameResolver("")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.WaitForResolver(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestDashboardSummarizesDiagnostics(t *testing.T) {
	testlog.Start(t)
	ep := startMaster(t)
	exec := newExecutor(t)

	body, _ := json.Marshal(DiagnosticArray{Status: []DiagnosticStatus{
		{Level: LevelOK, Name: "battery", Message: "ok"},
		{Level: LevelWarn, Name: "laser", Message: "low rate"},
	}})
	if _, err := registry.NewClient(ep).Publish(context.Background(), registry.TopicMessage{
		Topic:   "/robot/diagnostics_agg",
		Type:    "diagnostic_msgs/DiagnosticArray",
		Payload: body,
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	d := NewDashboard()
	d.SetPollInterval(20 * time.Millisecond)
	d.SetRobotName("robot")
	if _, err := exec.Execute(d, graph.NewPrivateConfig(ep).WithNamespace("/robot")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	eventually(t, func() bool { return d.Status().Level == LevelWarn }, "dashboard warn level")

	st := d.Status()
	if st.RobotName != "robot" || st.Summary != "laser: low rate" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if d.StartedAt().IsZero() {
		t.Fatalf("dashboard start time not recorded")
	}
}

func TestSystemCommandsPublish(t *testing.T) {
	testlog.Start(t)
	ep := startMaster(t)
	exec := newExecutor(t)

	s := NewSystemCommands()
	if err := s.Reset(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before start, got %v", err)
	}
	if _, err := exec.Execute(s, graph.NewPrivateConfig(ep).WithNamespace("/robot")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	eventually(t, func() bool { return s.SaveGeotiff(context.Background()) == nil }, "system commands connected")

	msg, err := registry.NewClient(ep).Latest(context.Background(), "/robot/syscommand")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	var out StringMsg
	if err := json.Unmarshal(msg.Payload, &out); err != nil || out.Data != "savegeotiff" {
		t.Fatalf("unexpected command %s (%v)", msg.Payload, err)
	}
	if msg.Type != StringType {
		t.Fatalf("type = %s", msg.Type)
	}
}

func TestPosePublisherSetPoseAndGoal(t *testing.T) {
	testlog.Start(t)
	ep := startMaster(t)
	exec := newExecutor(t)

	p := NewPosePublisher(PoseConfig{MapFrame: "world", InitialPoseTopic: "/custom/initialpose"})
	cfg := graph.NewPrivateConfig(ep).WithNamespace("/robot")
	if _, err := exec.Execute(p, cfg); err != nil {
		t.Fatalf("execute: %v", err)
	}
	eventually(t, func() bool { return p.SetPose(context.Background(), 1, 2, math.Pi/2) == nil }, "pose publisher connected")
	if err := p.SetGoal(context.Background(), 3, 4, 0); err != nil {
		t.Fatalf("set goal: %v", err)
	}

	client := registry.NewClient(ep)
	msg, err := client.Latest(context.Background(), "/custom/initialpose")
	if err != nil {
		t.Fatalf("latest initialpose: %v", err)
	}
	var pose PoseWithCovarianceStamped
	if err := json.Unmarshal(msg.Payload, &pose); err != nil {
		t.Fatalf("decode pose: %v", err)
	}
	if pose.Header.FrameID != "world" || pose.Pose.Pose.Position.X != 1 {
		t.Fatalf("unexpected pose: %+v", pose)
	}
	cov := pose.Pose.Covariance
	if cov[0] != 0.25 || cov[7] != 0.25 || math.Abs(cov[35]-(math.Pi/12)*(math.Pi/12)) > 1e-12 {
		t.Fatalf("unexpected covariance diagonal: %v %v %v", cov[0], cov[7], cov[35])
	}

	if _, err := client.Latest(context.Background(), "/robot/move_base_simple/goal"); err != nil {
		t.Fatalf("latest simple goal: %v", err)
	}
	msg, err = client.Latest(context.Background(), "/robot/move_base/goal")
	if err != nil {
		t.Fatalf("latest action goal: %v", err)
	}
	var goal MoveBaseActionGoal
	if err := json.Unmarshal(msg.Payload, &goal); err != nil {
		t.Fatalf("decode goal: %v", err)
	}
	if goal.Goal.TargetPose.Pose.Position.Y != 4 || goal.GoalID.ID == "" {
		t.Fatalf("unexpected goal: %+v", goal)
	}
}

func TestPlanarPoseOrientation(t *testing.T) {
	p := PlanarPose(0, 0, math.Pi)
	if math.Abs(p.Orientation.Z-1) > 1e-12 || math.Abs(p.Orientation.W) > 1e-12 {
		t.Fatalf("unexpected quaternion: %+v", p.Orientation)
	}
}
