package nodes

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danmuck/rosclient/internal/graph"
	"github.com/danmuck/rosclient/internal/registry"
	"github.com/rs/zerolog/log"
)

const (
	DiagnosticsTopic     = "diagnostics_agg"
	defaultDashboardPoll = time.Second
)

// Diagnostic levels.
const (
	LevelOK    = 0
	LevelWarn  = 1
	LevelError = 2
	LevelStale = 3
)

type DiagnosticStatus struct {
	Level   int    `json:"level"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type DiagnosticArray struct {
	Status []DiagnosticStatus `json:"status"`
}

// DashboardStatus is the summary shown for the robot.
type DashboardStatus struct {
	RobotName string
	Level     int
	Summary   string
	Seq       uint64
	UpdatedAt time.Time
}

// Dashboard tracks the robot name and the worst aggregated diagnostic.
type Dashboard struct {
	poll time.Duration

	mu         sync.Mutex
	robotName  string
	customPath string
	status     DashboardStatus
	startedAt  time.Time
}

func NewDashboard() *Dashboard {
	return &Dashboard{poll: defaultDashboardPoll, status: DashboardStatus{Level: LevelStale, Summary: "no diagnostics"}}
}

// SetPollInterval must be called before the dashboard starts.
func (d *Dashboard) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		d.poll = interval
	}
}

func (d *Dashboard) SetRobotName(name string) {
	d.mu.Lock()
	d.robotName = name
	d.mu.Unlock()
}

func (d *Dashboard) RobotName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.robotName
}

// SetCustomDashboardPath selects an alternative dashboard layout.
func (d *Dashboard) SetCustomDashboardPath(path string) {
	d.mu.Lock()
	d.customPath = path
	d.mu.Unlock()
}

func (d *Dashboard) CustomDashboardPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.customPath
}

func (d *Dashboard) DefaultName() string {
	return "dashboard"
}

func (d *Dashboard) OnStart(ctx context.Context, conn *graph.Conn) error {
	d.mu.Lock()
	d.startedAt = time.Now()
	d.mu.Unlock()
	log.Info().Str("robot", d.RobotName()).Str("topic", conn.Resolver().Resolve(DiagnosticsTopic)).Msg("nodes.Dashboard started")

	d.refresh(ctx, conn)
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.refresh(ctx, conn)
		}
	}
}

func (d *Dashboard) refresh(ctx context.Context, conn *graph.Conn) {
	var arr DiagnosticArray
	msg, err := conn.Latest(ctx, DiagnosticsTopic, &arr)
	if err != nil {
		if !errors.Is(err, registry.ErrTopicNotFound) && ctx.Err() == nil {
			log.Debug().Err(err).Msg("nodes.Dashboard.refresh failed")
		}
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if msg.Seq == d.status.Seq && !d.status.UpdatedAt.IsZero() {
		return
	}
	d.status = summarize(arr)
	d.status.Seq = msg.Seq
	d.status.UpdatedAt = time.Now()
}

func summarize(arr DiagnosticArray) DashboardStatus {
	if len(arr.Status) == 0 {
		return DashboardStatus{Level: LevelOK, Summary: "all ok"}
	}
	worst := arr.Status[0]
	for _, s := range arr.Status[1:] {
		if s.Level > worst.Level {
			worst = s
		}
	}
	if worst.Level == LevelOK {
		return DashboardStatus{Level: LevelOK, Summary: "all ok"}
	}
	return DashboardStatus{Level: worst.Level, Summary: worst.Name + ": " + worst.Message}
}

func (d *Dashboard) Status() DashboardStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.status
	st.RobotName = d.robotName
	return st
}

// StartedAt is zero until OnStart runs.
func (d *Dashboard) StartedAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startedAt
}

func (d *Dashboard) OnShutdown() {
	log.Debug().Str("robot", d.RobotName()).Msg("nodes.Dashboard stopped")
}
