package appmode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/rosclient/internal/graph"
	"github.com/danmuck/rosclient/internal/master"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

var ErrConfiguration = errors.New("appmode: invalid launch configuration")

// ConfigError is a launch parameter the session cannot run with. It is fatal.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("appmode: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// SessionMode is whether the client runs on its own or under an external manager.
type SessionMode int

const (
	Standalone SessionMode = iota
	PairedExternal
	ConcertExternal
)

func (m SessionMode) String() string {
	switch m {
	case Standalone:
		return "standalone"
	case PairedExternal:
		return "paired"
	case ConcertExternal:
		return "concert"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// External reports whether an external manager launched the session.
func (m SessionMode) External() bool {
	return m == PairedExternal || m == ConcertExternal
}

// ParseMode accepts the mode tag; empty is standalone.
func ParseMode(tag string) (SessionMode, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "", "standalone":
		return Standalone, nil
	case "paired":
		return PairedExternal, nil
	case "concert":
		return ConcertExternal, nil
	default:
		return Standalone, &ConfigError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", tag)}
	}
}

// MasterDescription identifies the master an external manager selected.
type MasterDescription struct {
	MasterURI  string `mapstructure:"master_uri" yaml:"master_uri"`
	MasterName string `mapstructure:"master_name" yaml:"master_name"`
	MasterType string `mapstructure:"master_type" yaml:"master_type"`
	// Extra keeps fields this client does not use so they can be returned to the manager.
	Extra map[string]any `mapstructure:",remain" yaml:",inline"`
}

// Params is the decoded parameter payload.
type Params map[string]any

// Get returns the value for key, or def when it is absent.
func (p Params) Get(key string, def any) any {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// String returns a string parameter, or def when it is absent or not a string.
func (p Params) String(key, def string) string {
	if s, ok := p.Get(key, def).(string); ok {
		return s
	}
	return def
}

// Args are the raw launch parameters as handed over by the launcher.
type Args struct {
	ModeTag           string
	AppName           string
	Parameters        string
	Remappings        string
	MasterDescription string
	// ManagerCommand is run to hand control back to the external manager.
	ManagerCommand string
}

// Launch is the validated launch configuration of one session.
type Launch struct {
	Mode           SessionMode
	AppName        string
	Params         Params
	Remaps         graph.Remappings
	Master         *MasterDescription
	MasterEndpoint master.Endpoint
	ManagerCommand string
}

// ParseLaunch decodes args. It fails closed: a malformed payload, or an
// external mode without a usable master description, is a ConfigError.
func ParseLaunch(args Args, defaultAppName string) (Launch, error) {
	mode, err := ParseMode(args.ModeTag)
	if err != nil {
		return Launch{}, err
	}
	l := Launch{
		Mode:           mode,
		AppName:        strings.TrimSpace(args.AppName),
		Params:         Params{},
		Remaps:         graph.Remappings{},
		ManagerCommand: strings.TrimSpace(args.ManagerCommand),
	}
	if l.AppName == "" {
		l.AppName = defaultAppName
	}

	params, err := decodeMap("parameters", args.Parameters)
	if err != nil {
		return Launch{}, err
	}
	for k, v := range params {
		l.Params[k] = v
	}

	remaps, err := decodeMap("remappings", args.Remappings)
	if err != nil {
		return Launch{}, err
	}
	var rm map[string]string
	if err := decodeStrict(remaps, &rm); err != nil {
		return Launch{}, &ConfigError{Field: "remappings", Reason: "values must be names", Err: err}
	}
	for from, to := range rm {
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if from == "" || to == "" {
			return Launch{}, &ConfigError{Field: "remappings", Reason: fmt.Sprintf("empty name in %q -> %q", from, to)}
		}
		l.Remaps[from] = to
	}

	if !mode.External() {
		return l, nil
	}
	if strings.TrimSpace(args.MasterDescription) == "" {
		return Launch{}, &ConfigError{Field: "master_description", Reason: "required in " + mode.String() + " mode"}
	}
	raw, err := decodeMap("master_description", args.MasterDescription)
	if err != nil {
		return Launch{}, err
	}
	var desc MasterDescription
	if err := decodeStrict(raw, &desc); err != nil {
		return Launch{}, &ConfigError{Field: "master_description", Reason: "malformed", Err: err}
	}
	ep, err := master.ParseEndpoint(desc.MasterURI)
	if err != nil {
		return Launch{}, &ConfigError{Field: "master_description.master_uri", Reason: "invalid master address", Err: err}
	}
	desc.MasterURI = ep.String()
	l.Master = &desc
	l.MasterEndpoint = ep
	return l, nil
}

// decodeMap parses a YAML (or JSON) mapping. Empty input is an empty map.
func decodeMap(field, payload string) (map[string]any, error) {
	if strings.TrimSpace(payload) == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(payload), &v); err != nil {
		return nil, &ConfigError{Field: field, Reason: "not valid YAML", Err: err}
	}
	switch m := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return m, nil
	default:
		return nil, &ConfigError{Field: field, Reason: fmt.Sprintf("expected a mapping, got %T", v)}
	}
}

func decodeStrict(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: false,
		ZeroFields:  true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// EncodeMasterDescription renders d for handing back to the manager.
func EncodeMasterDescription(d MasterDescription) (string, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("appmode: encode master description: %w", err)
	}
	return string(out), nil
}
