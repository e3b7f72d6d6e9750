package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danmuck/rosclient/internal/registry"
)

// Conn is a started node's view of the graph.
type Conn struct {
	id       string
	name     string
	cfg      Config
	resolver *NameResolver
	master   *registry.Client
	ctx      context.Context
}

func (c *Conn) ID() string {
	return c.id
}

// Name is the node's resolved graph name.
func (c *Conn) Name() string {
	return c.name
}

func (c *Conn) Config() Config {
	return c.cfg
}

// Resolver resolves names relative to the node's namespace; ~ names under the node.
func (c *Conn) Resolver() *NameResolver {
	return c.resolver
}

func (c *Conn) Master() *registry.Client {
	return c.master
}

// Context is cancelled when the node is shut down.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Publish latches msg on the resolved topic.
func (c *Conn) Publish(ctx context.Context, topic, msgType string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("graph: encode %s: %w", msgType, err)
	}
	_, err = c.master.Publish(ctx, registry.TopicMessage{
		Topic:     c.resolver.Resolve(topic),
		Type:      msgType,
		Publisher: c.name,
		Payload:   payload,
	})
	return err
}

// Latest fetches the last message on the resolved topic and decodes it into out.
func (c *Conn) Latest(ctx context.Context, topic string, out any) (registry.TopicMessage, error) {
	msg, err := c.master.Latest(ctx, c.resolver.Resolve(topic))
	if err != nil {
		return msg, err
	}
	if out != nil {
		if err := json.Unmarshal(msg.Payload, out); err != nil {
			return msg, fmt.Errorf("graph: decode %s: %w", msg.Topic, err)
		}
	}
	return msg, nil
}

// Param reads a parameter by resolved name.
func (c *Conn) Param(ctx context.Context, key string) (any, error) {
	return c.master.GetParam(ctx, c.resolver.Resolve(key))
}
