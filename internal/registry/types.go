package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNodeNameRequired    = errors.New("registry: node name required")
	ErrServiceNameRequired = errors.New("registry: service name required")
	ErrServiceURIRequired  = errors.New("registry: service uri required")
	ErrTopicRequired       = errors.New("registry: topic required")
	ErrParamKeyRequired    = errors.New("registry: param key required")
	ErrServiceNotFound     = errors.New("registry: service not found")
	ErrTopicNotFound       = errors.New("registry: topic not found")
	ErrParamNotFound       = errors.New("registry: param not found")
	ErrNodeNotFound        = errors.New("registry: node not found")
)

// NodeInfo is one node registered with the master.
type NodeInfo struct {
	Name         string    `json:"name"`
	ID           string    `json:"id"`
	Host         string    `json:"host"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ServiceInfo locates one service provider.
type ServiceInfo struct {
	Name         string    `json:"name"`
	Provider     string    `json:"provider"`
	URI          string    `json:"uri"`
	RegisteredAt time.Time `json:"registered_at"`
}

// TopicMessage is the latest message latched on a topic.
type TopicMessage struct {
	Topic       string          `json:"topic"`
	Type        string          `json:"type"`
	Publisher   string          `json:"publisher"`
	Seq         uint64          `json:"seq"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// TopicInfo summarizes activity on one topic.
type TopicInfo struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Publishers []string `json:"publishers"`
	Count      uint64   `json:"count"`
}

// Health is the readiness document served at /health.
type Health struct {
	Status   string `json:"status"`
	MasterID string `json:"master_id"`
	URI      string `json:"uri"`
	Uptime   string `json:"uptime"`
	Nodes    int    `json:"nodes"`
}

// StatusError is a non-2xx answer from the master.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry: status %d: %s", e.Code, e.Message)
}

// CanonicalKey forces a parameter or graph name to be absolute.
func CanonicalKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if !strings.HasPrefix(key, "/") {
		key = "/" + key
	}
	if len(key) > 1 {
		key = strings.TrimRight(key, "/")
	}
	return key
}
