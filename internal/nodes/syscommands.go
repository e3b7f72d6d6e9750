package nodes

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/rosclient/internal/graph"
	"github.com/rs/zerolog/log"
)

const (
	SysCommandTopic = "syscommand"
	StringType      = "std_msgs/String"
)

var ErrNotConnected = errors.New("nodes: node not started")

// StringMsg is a std_msgs/String.
type StringMsg struct {
	Data string `json:"data"`
}

// SystemCommands publishes mapping system commands.
type SystemCommands struct {
	mu   sync.Mutex
	conn *graph.Conn
}

func NewSystemCommands() *SystemCommands {
	return &SystemCommands{}
}

func (s *SystemCommands) DefaultName() string {
	return "system_commands"
}

func (s *SystemCommands) OnStart(_ context.Context, conn *graph.Conn) error {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *SystemCommands) OnShutdown() {
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
}

// Reset clears the current map.
func (s *SystemCommands) Reset(ctx context.Context) error {
	return s.publish(ctx, "reset")
}

// SaveGeotiff asks the mapper to write the map as a GeoTIFF.
func (s *SystemCommands) SaveGeotiff(ctx context.Context) error {
	return s.publish(ctx, "savegeotiff")
}

func (s *SystemCommands) publish(ctx context.Context, command string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Publish(ctx, SysCommandTopic, StringType, StringMsg{Data: command}); err != nil {
		return err
	}
	log.Info().Str("command", command).Msg("nodes.SystemCommands published")
	return nil
}
