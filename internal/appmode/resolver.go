package appmode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/rosclient/internal/execution"
	"github.com/danmuck/rosclient/internal/graph"
	"github.com/danmuck/rosclient/internal/master"
	"github.com/danmuck/rosclient/internal/nodes"
	"github.com/danmuck/rosclient/internal/tools"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	ResolverNodeName  = "masterNameResolver"
	DashboardNodeName = "dashboard"
	// ChooserAppName asks the manager to show its app chooser again.
	ChooserAppName = "AppChooser"

	defaultResolverTimeout = 15 * time.Second
)

var ErrResolverNotReady = errors.New("appmode: master name resolver did not become ready")

// Dependent is a node started once the namespace is resolved.
type Dependent struct {
	Node graph.Node
	// Name is the node name; empty uses the node's default name.
	Name string
}

type Options struct {
	// DefaultMasterName names a standalone session when the master has no robot name.
	DefaultMasterName string
	// ResolverTimeout bounds the wait for the namespace.
	ResolverTimeout time.Duration
	Runner          tools.CommandRunner
}

// Resolver is the mode-specific session initializer. It starts the master name
// resolver, waits until the namespace is known, then starts the dashboard and
// any dependent nodes under it.
type Resolver struct {
	launch Launch
	opts   Options

	nameResolver *nodes.MasterNameResolver
	dashboard    *nodes.Dashboard

	mu          sync.Mutex
	svc         *execution.Service
	dependents  []Dependent
	initialized bool
	namespace   *graph.NameResolver
}

func NewResolver(l Launch, opts Options) *Resolver {
	if opts.ResolverTimeout <= 0 {
		opts.ResolverTimeout = defaultResolverTimeout
	}
	if opts.Runner == nil {
		opts.Runner = tools.ExecRunner{}
	}
	if l.Params == nil {
		l.Params = Params{}
	}
	return &Resolver{
		launch:       l,
		opts:         opts,
		nameResolver: nodes.NewMasterNameResolver(opts.DefaultMasterName),
		dashboard:    nodes.NewDashboard(),
	}
}

func (r *Resolver) Mode() SessionMode {
	return r.launch.Mode
}

func (r *Resolver) Launch() Launch {
	return r.launch
}

func (r *Resolver) Params() Params {
	return r.launch.Params
}

func (r *Resolver) Remaps() graph.Remappings {
	return r.launch.Remaps.Clone()
}

// MasterOverride is the master an external manager chose, zero in standalone mode.
func (r *Resolver) MasterOverride() master.Endpoint {
	return r.launch.MasterEndpoint
}

func (r *Resolver) NameResolverNode() *nodes.MasterNameResolver {
	return r.nameResolver
}

func (r *Resolver) Dashboard() *nodes.Dashboard {
	return r.dashboard
}

// AddDependent queues n to start after the resolver is ready. It must be
// called before Init.
func (r *Resolver) AddDependent(n graph.Node, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dependents = append(r.dependents, Dependent{Node: n, Name: name})
}

// NameResolver resolves names in the session namespace. It is nil before Init
// has seen the resolver become ready.
func (r *Resolver) NameResolver() *graph.NameResolver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namespace
}

// Init runs the start sequence. It blocks until the namespace is resolved;
// the dashboard and dependents are only submitted after that.
func (r *Resolver) Init(ctx context.Context, svc *execution.Service) error {
	if r.launch.Mode.External() && r.launch.Master == nil {
		return &ConfigError{Field: "master_description", Reason: "required in " + r.launch.Mode.String() + " mode"}
	}
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return errors.New("appmode: resolver already initialized")
	}
	r.initialized = true
	r.svc = svc
	deps := append([]Dependent(nil), r.dependents...)
	r.mu.Unlock()

	base := svc.NodeConfig().WithRemappings(r.launch.Remaps)

	switch r.launch.Mode {
	case Standalone:
		r.dashboard.SetRobotName(r.opts.DefaultMasterName)
	case PairedExternal:
		r.nameResolver.SetMasterName(r.launch.Master.MasterName)
		r.dashboard.SetRobotName(r.launch.Master.MasterType)
	case ConcertExternal:
		r.nameResolver.SetMasterName(r.launch.Master.MasterName)
		r.dashboard.SetRobotName(r.launch.Master.MasterName)
	}

	if _, err := svc.Execute(r.nameResolver, base.WithNodeName(ResolverNodeName)); err != nil {
		return fmt.Errorf("appmode: start %s: %w", ResolverNodeName, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.opts.ResolverTimeout)
	defer cancel()
	if err := r.nameResolver.WaitForResolver(waitCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrResolverNotReady, err)
	}

	ns := r.nameResolver.Namespace()
	r.mu.Lock()
	r.namespace = r.nameResolver.NameResolver(r.launch.Remaps)
	r.mu.Unlock()
	if r.launch.Mode == Standalone {
		r.dashboard.SetRobotName(r.nameResolver.MasterName())
	}
	log.Info().Str("mode", r.launch.Mode.String()).Str("namespace", ns).Msg("appmode.Resolver.Init namespace ready")

	scoped := base.WithNamespace(ns)
	g := new(errgroup.Group)
	g.Go(func() error {
		if _, err := svc.Execute(r.dashboard, scoped.WithNodeName(DashboardNodeName)); err != nil {
			return fmt.Errorf("appmode: start %s: %w", DashboardNodeName, err)
		}
		return nil
	})
	for _, d := range deps {
		d := d
		g.Go(func() error {
			if _, err := svc.Execute(d.Node, scoped.WithNodeName(d.Name)); err != nil {
				return fmt.Errorf("appmode: start %s: %w", nodeName(d), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ReleaseResolverNode stops the name resolver without shutting the session down.
func (r *Resolver) ReleaseResolverNode() error {
	return r.release(r.nameResolver, ResolverNodeName)
}

// ReleaseDashboardNode stops the dashboard without shutting the session down.
func (r *Resolver) ReleaseDashboardNode() error {
	return r.release(r.dashboard, DashboardNodeName)
}

func (r *Resolver) release(n graph.Node, name string) error {
	r.mu.Lock()
	svc := r.svc
	r.mu.Unlock()
	if svc == nil {
		return nil
	}
	err := svc.ShutdownNode(n)
	if errors.Is(err, graph.ErrNodeNotRunning) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("appmode: release %s: %w", name, err)
	}
	log.Info().Str("node", name).Msg("appmode.Resolver released node")
	return nil
}

// ReturnData is what a managed session hands back to its manager.
type ReturnData struct {
	Mode              SessionMode
	AppNameKey        string
	AppName           string
	MasterDescription *MasterDescription
}

// Args renders the data as manager command-line flags.
func (d ReturnData) Args() ([]string, error) {
	args := []string{fmt.Sprintf("--%s=%s", d.AppNameKey, d.AppName)}
	if d.MasterDescription != nil {
		desc, err := EncodeMasterDescription(*d.MasterDescription)
		if err != nil {
			return nil, err
		}
		args = append(args, "--master-description="+desc)
	}
	return args, nil
}

// BackResult says what back navigation did.
type BackResult struct {
	// Exit is set in standalone mode: the caller should end the session.
	Exit bool
	// Handoff is set in managed modes.
	Handoff *ReturnData
}

// Back handles back navigation. Standalone sessions exit. Managed sessions hand
// control back to the manager and leave the execution service running.
func (r *Resolver) Back(ctx context.Context) (BackResult, error) {
	if !r.launch.Mode.External() {
		return BackResult{Exit: true}, nil
	}
	data := &ReturnData{
		Mode:              r.launch.Mode,
		AppNameKey:        r.launch.Mode.String() + "_app_name",
		AppName:           ChooserAppName,
		MasterDescription: r.launch.Master,
	}
	res := BackResult{Handoff: data}
	if r.launch.ManagerCommand == "" {
		log.Warn().Str("mode", r.launch.Mode.String()).Msg("appmode.Resolver.Back no manager command configured")
		return res, nil
	}

	args, err := data.Args()
	if err != nil {
		return res, err
	}
	out, err := r.opts.Runner.Run(ctx, r.launch.ManagerCommand, args...)
	if err != nil {
		return res, fmt.Errorf("appmode: hand off to %s (exit %d): %w", r.launch.ManagerCommand, out.ExitCode, err)
	}
	log.Info().Str("manager", r.launch.ManagerCommand).Str("mode", r.launch.Mode.String()).Msg("appmode.Resolver.Back handed off")
	return res, nil
}

func nodeName(d Dependent) string {
	if d.Name != "" {
		return d.Name
	}
	return d.Node.DefaultName()
}
