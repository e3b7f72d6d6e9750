package graph

import (
	"github.com/danmuck/rosclient/internal/master"
	"github.com/danmuck/rosclient/internal/registry"
)

const loopbackHost = "127.0.0.1"

// Config is the per-execution configuration handed to the Executor with a node.
// The With* methods return modified copies.
type Config struct {
	NodeName         string
	Namespace        string
	Host             string
	Master           master.Endpoint
	Remappings       Remappings
	RegisterAttempts int
	Backoff          registry.BackoffConfig
}

// NewPublicConfig advertises host to other graph participants.
func NewPublicConfig(host string, masterEp master.Endpoint) Config {
	if host == "" {
		host = loopbackHost
	}
	return Config{
		Namespace:        "/",
		Host:             host,
		Master:           masterEp,
		RegisterAttempts: 5,
		Backoff:          registry.DefaultBackoff(),
	}
}

func NewPrivateConfig(masterEp master.Endpoint) Config {
	return NewPublicConfig(loopbackHost, masterEp)
}

func (c Config) WithNodeName(name string) Config {
	c.NodeName = name
	return c
}

func (c Config) WithNamespace(ns string) Config {
	c.Namespace = ns
	return c
}

func (c Config) WithRemappings(r Remappings) Config {
	c.Remappings = r.Clone()
	return c
}

func (c Config) Resolver() *NameResolver {
	return NewNameResolver(c.Namespace, c.Remappings)
}
