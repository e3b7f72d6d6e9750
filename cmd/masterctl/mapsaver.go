package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/rosclient/internal/graph"
	"github.com/danmuck/rosclient/internal/mapsave"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var errBadMapName = errors.New("map name must be a plain file name")

// mapMetadata is the map_server style description written for each saved map.
type mapMetadata struct {
	Image          string     `yaml:"image"`
	Resolution     float64    `yaml:"resolution"`
	Origin         [3]float64 `yaml:"origin"`
	Negate         int        `yaml:"negate"`
	OccupiedThresh float64    `yaml:"occupied_thresh"`
	FreeThresh     float64    `yaml:"free_thresh"`
	SavedAt        time.Time  `yaml:"saved_at"`
}

// mapSaver provides the save_map service. It records map metadata only; there
// is no occupancy grid behind this master.
type mapSaver struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	uri   string
	ready chan struct{}
}

func newMapSaver(dir string) *mapSaver {
	return &mapSaver{dir: dir, now: time.Now, ready: make(chan struct{})}
}

func (m *mapSaver) DefaultName() string {
	return "map_saver"
}

func (m *mapSaver) OnStart(ctx context.Context, conn *graph.Conn) error {
	srv, err := graph.Advertise(ctx, conn, mapsave.ServiceName, m.save)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.uri = srv.URI()
	m.mu.Unlock()
	close(m.ready)
	log.Info().Str("service", srv.Name()).Str("dir", m.dir).Msg("masterctl.mapSaver ready")

	<-ctx.Done()
	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Close(closeCtx); err != nil {
		log.Warn().Err(err).Msg("masterctl.mapSaver close failed")
	}
	return nil
}

func (m *mapSaver) OnShutdown() {}

// Ready is closed once the service is advertised.
func (m *mapSaver) Ready() <-chan struct{} {
	return m.ready
}

func (m *mapSaver) URI() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uri
}

func (m *mapSaver) save(_ context.Context, req mapsave.Request) (mapsave.Response, error) {
	name := strings.TrimSpace(req.MapName)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return mapsave.Response{}, fmt.Errorf("%w: %q", errBadMapName, req.MapName)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return mapsave.Response{}, fmt.Errorf("create map dir: %w", err)
	}

	meta := mapMetadata{
		Image:          name + ".pgm",
		Resolution:     0.05,
		Origin:         [3]float64{0, 0, 0},
		OccupiedThresh: 0.65,
		FreeThresh:     0.196,
		SavedAt:        m.now().UTC(),
	}
	data, err := yaml.Marshal(meta)
	if err != nil {
		return mapsave.Response{}, fmt.Errorf("encode map metadata: %w", err)
	}
	path := filepath.Join(m.dir, name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return mapsave.Response{}, fmt.Errorf("write map metadata: %w", err)
	}
	log.Info().Str("map", name).Str("path", path).Msg("masterctl.mapSaver saved")
	return mapsave.Response{Saved: true, Path: path, Message: "metadata written"}, nil
}
