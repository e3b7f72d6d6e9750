package nodes

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/danmuck/rosclient/internal/graph"
	"github.com/rs/zerolog/log"
)

const (
	InitialPoseTopic  = "initialpose"
	SimpleGoalTopic   = "move_base_simple/goal"
	MoveBaseGoalTopic = "move_base/goal"

	PoseWithCovarianceStampedType = "geometry_msgs/PoseWithCovarianceStamped"
	PoseStampedType               = "geometry_msgs/PoseStamped"
	MoveBaseActionGoalType        = "move_base_msgs/MoveBaseActionGoal"
)

type Header struct {
	Seq     uint64    `json:"seq"`
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type Pose struct {
	Position    Point      `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// PlanarPose builds a pose on the ground plane facing theta radians.
func PlanarPose(x, y, theta float64) Pose {
	return Pose{
		Position:    Point{X: x, Y: y},
		Orientation: Quaternion{Z: math.Sin(theta / 2), W: math.Cos(theta / 2)},
	}
}

type PoseStamped struct {
	Header Header `json:"header"`
	Pose   Pose   `json:"pose"`
}

type PoseWithCovariance struct {
	Pose       Pose        `json:"pose"`
	Covariance [36]float64 `json:"covariance"`
}

type PoseWithCovarianceStamped struct {
	Header Header             `json:"header"`
	Pose   PoseWithCovariance `json:"pose"`
}

type GoalID struct {
	Stamp time.Time `json:"stamp"`
	ID    string    `json:"id"`
}

type MoveBaseGoal struct {
	TargetPose PoseStamped `json:"target_pose"`
}

type MoveBaseActionGoal struct {
	Header Header       `json:"header"`
	GoalID GoalID       `json:"goal_id"`
	Goal   MoveBaseGoal `json:"goal"`
}

// InitialPoseCovariance is the x, y and yaw uncertainty sent with an initial pose.
func InitialPoseCovariance() [36]float64 {
	var c [36]float64
	c[6*0+0] = 0.5 * 0.5
	c[6*1+1] = 0.5 * 0.5
	c[6*5+5] = math.Pi / 12.0 * math.Pi / 12.0
	return c
}

// PoseConfig names the frames and the (logical) topics a PosePublisher uses.
type PoseConfig struct {
	MapFrame          string
	RobotFrame        string
	InitialPoseTopic  string
	SimpleGoalTopic   string
	MoveBaseGoalTopic string
}

func DefaultPoseConfig() PoseConfig {
	return PoseConfig{
		MapFrame:          "map",
		RobotFrame:        "base_footprint",
		InitialPoseTopic:  InitialPoseTopic,
		SimpleGoalTopic:   SimpleGoalTopic,
		MoveBaseGoalTopic: MoveBaseGoalTopic,
	}
}

// PosePublisher sends initial pose estimates and navigation goals.
type PosePublisher struct {
	cfg PoseConfig

	mu   sync.Mutex
	conn *graph.Conn
	seq  uint64
	now  func() time.Time
}

func NewPosePublisher(cfg PoseConfig) *PosePublisher {
	def := DefaultPoseConfig()
	if cfg.MapFrame == "" {
		cfg.MapFrame = def.MapFrame
	}
	if cfg.RobotFrame == "" {
		cfg.RobotFrame = def.RobotFrame
	}
	if cfg.InitialPoseTopic == "" {
		cfg.InitialPoseTopic = def.InitialPoseTopic
	}
	if cfg.SimpleGoalTopic == "" {
		cfg.SimpleGoalTopic = def.SimpleGoalTopic
	}
	if cfg.MoveBaseGoalTopic == "" {
		cfg.MoveBaseGoalTopic = def.MoveBaseGoalTopic
	}
	return &PosePublisher{cfg: cfg, now: time.Now}
}

func (p *PosePublisher) Config() PoseConfig {
	return p.cfg
}

func (p *PosePublisher) DefaultName() string {
	return "pose_publisher"
}

func (p *PosePublisher) OnStart(_ context.Context, conn *graph.Conn) error {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	return nil
}

func (p *PosePublisher) OnShutdown() {
	p.mu.Lock()
	p.conn = nil
	p.mu.Unlock()
}

// SetPose publishes an initial pose estimate in the map frame.
func (p *PosePublisher) SetPose(ctx context.Context, x, y, theta float64) error {
	conn, header, err := p.next()
	if err != nil {
		return err
	}
	msg := PoseWithCovarianceStamped{
		Header: header,
		Pose: PoseWithCovariance{
			Pose:       PlanarPose(x, y, theta),
			Covariance: InitialPoseCovariance(),
		},
	}
	if err := conn.Publish(ctx, p.cfg.InitialPoseTopic, PoseWithCovarianceStampedType, msg); err != nil {
		return err
	}
	log.Info().Float64("x", x).Float64("y", y).Float64("theta", theta).Msg("nodes.PosePublisher.SetPose published")
	return nil
}

// SetGoal publishes a simple goal and the matching move_base action goal.
func (p *PosePublisher) SetGoal(ctx context.Context, x, y, theta float64) error {
	conn, header, err := p.next()
	if err != nil {
		return err
	}
	target := PoseStamped{Header: header, Pose: PlanarPose(x, y, theta)}
	if err := conn.Publish(ctx, p.cfg.SimpleGoalTopic, PoseStampedType, target); err != nil {
		return err
	}
	goal := MoveBaseActionGoal{
		Header: header,
		GoalID: GoalID{
			Stamp: header.Stamp,
			ID:    fmt.Sprintf("move_base/move_base_client_%d", header.Stamp.UnixNano()),
		},
		Goal: MoveBaseGoal{TargetPose: target},
	}
	if err := conn.Publish(ctx, p.cfg.MoveBaseGoalTopic, MoveBaseActionGoalType, goal); err != nil {
		return err
	}
	log.Info().Float64("x", x).Float64("y", y).Float64("theta", theta).Msg("nodes.PosePublisher.SetGoal published")
	return nil
}

func (p *PosePublisher) next() (*graph.Conn, Header, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil, Header{}, ErrNotConnected
	}
	p.seq++
	return p.conn, Header{Seq: p.seq, Stamp: p.now(), FrameID: p.cfg.MapFrame}, nil
}
