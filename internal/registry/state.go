package registry

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type topicState struct {
	info   TopicInfo
	latest *TopicMessage
}

// graphState is the master's view of nodes, services and topics.
type graphState struct {
	mu       sync.RWMutex
	nodes    map[string]NodeInfo
	services map[string]ServiceInfo
	topics   map[string]*topicState
}

func newGraphState() *graphState {
	return &graphState{
		nodes:    make(map[string]NodeInfo),
		services: make(map[string]ServiceInfo),
		topics:   make(map[string]*topicState),
	}
}

func (g *graphState) registerNode(info NodeInfo) (NodeInfo, error) {
	info.Name = CanonicalKey(info.Name)
	if info.Name == "" {
		return NodeInfo{}, ErrNodeNameRequired
	}
	if info.RegisteredAt.IsZero() {
		info.RegisteredAt = time.Now()
	}
	g.mu.Lock()
	g.nodes[info.Name] = info
	g.mu.Unlock()
	return info, nil
}

// unregisterNode drops the node and every service it provides.
func (g *graphState) unregisterNode(name string) bool {
	name = CanonicalKey(name)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[name]; !ok {
		return false
	}
	delete(g.nodes, name)
	for svc, info := range g.services {
		if info.Provider == name {
			delete(g.services, svc)
		}
	}
	return true
}

func (g *graphState) listNodes() []NodeInfo {
	g.mu.RLock()
	out := make([]NodeInfo, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (g *graphState) nodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *graphState) registerService(info ServiceInfo) (ServiceInfo, error) {
	info.Name = CanonicalKey(info.Name)
	if info.Name == "" {
		return ServiceInfo{}, ErrServiceNameRequired
	}
	if info.URI == "" {
		return ServiceInfo{}, ErrServiceURIRequired
	}
	info.Provider = CanonicalKey(info.Provider)
	if info.RegisteredAt.IsZero() {
		info.RegisteredAt = time.Now()
	}
	g.mu.Lock()
	g.services[info.Name] = info
	g.mu.Unlock()
	return info, nil
}

func (g *graphState) unregisterService(name string) bool {
	name = CanonicalKey(name)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.services[name]; !ok {
		return false
	}
	delete(g.services, name)
	return true
}

func (g *graphState) lookupService(name string) (ServiceInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	info, ok := g.services[CanonicalKey(name)]
	return info, ok
}

func (g *graphState) listServices() []ServiceInfo {
	g.mu.RLock()
	out := make([]ServiceInfo, 0, len(g.services))
	for _, s := range g.services {
		out = append(out, s)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// publish latches msg as the topic's latest message and bumps its sequence.
func (g *graphState) publish(msg TopicMessage) (TopicMessage, error) {
	msg.Topic = CanonicalKey(msg.Topic)
	if msg.Topic == "" {
		return TopicMessage{}, ErrTopicRequired
	}
	if len(msg.Payload) == 0 {
		msg.Payload = json.RawMessage("null")
	}
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	ts, ok := g.topics[msg.Topic]
	if !ok {
		ts = &topicState{info: TopicInfo{Name: msg.Topic, Type: msg.Type}}
		g.topics[msg.Topic] = ts
	}
	if msg.Type != "" {
		ts.info.Type = msg.Type
	}
	if msg.Publisher != "" && !containsString(ts.info.Publishers, msg.Publisher) {
		ts.info.Publishers = append(ts.info.Publishers, msg.Publisher)
		sort.Strings(ts.info.Publishers)
	}
	ts.info.Count++
	msg.Seq = ts.info.Count
	copyMsg := msg
	ts.latest = &copyMsg
	return msg, nil
}

func (g *graphState) latest(topic string) (TopicMessage, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ts, ok := g.topics[CanonicalKey(topic)]
	if !ok || ts.latest == nil {
		return TopicMessage{}, false
	}
	return *ts.latest, true
}

func (g *graphState) listTopics() []TopicInfo {
	g.mu.RLock()
	out := make([]TopicInfo, 0, len(g.topics))
	for _, ts := range g.topics {
		info := ts.info
		info.Publishers = append([]string(nil), ts.info.Publishers...)
		out = append(out, info)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
