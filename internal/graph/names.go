package graph

import (
	"path"
	"strings"
)

// Remappings maps a logical name, raw or resolved, to the name actually used.
type Remappings map[string]string

// Get returns the mapped name, or name itself when it is not remapped.
func (r Remappings) Get(name string) string {
	if to, ok := r[name]; ok {
		return to
	}
	return name
}

func (r Remappings) Clone() Remappings {
	if r == nil {
		return nil
	}
	out := make(Remappings, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// NameResolver qualifies graph names against a namespace.
//
//	foo  -> <namespace>/foo
//	/foo -> /foo
//	~foo -> <node>/foo
type NameResolver struct {
	namespace string
	node      string
	remap     Remappings
}

func NewNameResolver(namespace string, remap Remappings) *NameResolver {
	return &NameResolver{namespace: clean(namespace), remap: remap.Clone()}
}

// ForNode returns a resolver that also knows the node's own name for ~ names.
func (r *NameResolver) ForNode(nodeName string) *NameResolver {
	return &NameResolver{namespace: r.namespace, node: r.Resolve(nodeName), remap: r.remap}
}

// Child nests ns under this resolver's namespace.
func (r *NameResolver) Child(ns string) *NameResolver {
	return &NameResolver{namespace: r.join(r.namespace, ns), node: r.node, remap: r.remap}
}

func (r *NameResolver) Namespace() string {
	return r.namespace
}

func (r *NameResolver) Remappings() Remappings {
	return r.remap.Clone()
}

func (r *NameResolver) Resolve(name string) string {
	name = strings.TrimSpace(name)
	if to, ok := r.remap[name]; ok {
		name = to
	}
	resolved := r.qualify(name)
	if to, ok := r.remap[resolved]; ok {
		return r.qualify(to)
	}
	return resolved
}

func (r *NameResolver) qualify(name string) string {
	switch {
	case strings.HasPrefix(name, "/"):
		return clean(name)
	case strings.HasPrefix(name, "~"):
		base := r.node
		if base == "" {
			base = r.namespace
		}
		return r.join(base, strings.TrimPrefix(name, "~"))
	default:
		return r.join(r.namespace, name)
	}
}

func (r *NameResolver) join(base, name string) string {
	return clean(path.Join("/", base, name))
}

func clean(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "/"
	}
	return path.Clean("/" + name)
}
