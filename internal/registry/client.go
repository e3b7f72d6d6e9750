package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/danmuck/rosclient/internal/master"
)

// Client talks to a master registry over HTTP.
type Client struct {
	endpoint master.Endpoint
	http     *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout bounds each request independently of the caller's context.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http = &http.Client{Timeout: d}
	}
}

func NewClient(ep master.Endpoint, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: ep,
		http:     &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Endpoint() master.Endpoint {
	return c.endpoint
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out)
	return out, err
}

// GetURI asks the master for its own URI; used to probe reachability.
func (c *Client) GetURI(ctx context.Context) (string, error) {
	var out struct {
		URI string `json:"uri"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/uri", nil, nil, &out); err != nil {
		return "", err
	}
	return out.URI, nil
}

func (c *Client) RegisterNode(ctx context.Context, info NodeInfo) (NodeInfo, error) {
	var out NodeInfo
	err := c.do(ctx, http.MethodPost, "/api/nodes", nil, info, &out)
	return out, err
}

func (c *Client) UnregisterNode(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, "/api/nodes", url.Values{"name": {name}}, nil, nil)
	return notFoundAs(err, ErrNodeNotFound)
}

func (c *Client) ListNodes(ctx context.Context) ([]NodeInfo, error) {
	var out struct {
		Nodes []NodeInfo `json:"nodes"`
	}
	err := c.do(ctx, http.MethodGet, "/api/nodes", nil, nil, &out)
	return out.Nodes, err
}

func (c *Client) RegisterService(ctx context.Context, info ServiceInfo) (ServiceInfo, error) {
	var out ServiceInfo
	err := c.do(ctx, http.MethodPost, "/api/services", nil, info, &out)
	return out, err
}

func (c *Client) UnregisterService(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, "/api/services", url.Values{"name": {name}}, nil, nil)
	return notFoundAs(err, ErrServiceNotFound)
}

func (c *Client) LookupService(ctx context.Context, name string) (ServiceInfo, error) {
	var out ServiceInfo
	err := c.do(ctx, http.MethodGet, "/api/services/lookup", url.Values{"name": {name}}, nil, &out)
	return out, notFoundAs(err, ErrServiceNotFound)
}

func (c *Client) ListServices(ctx context.Context) ([]ServiceInfo, error) {
	var out struct {
		Services []ServiceInfo `json:"services"`
	}
	err := c.do(ctx, http.MethodGet, "/api/services", nil, nil, &out)
	return out.Services, err
}

func (c *Client) Publish(ctx context.Context, msg TopicMessage) (TopicMessage, error) {
	var out TopicMessage
	err := c.do(ctx, http.MethodPost, "/api/topics/publish", nil, msg, &out)
	return out, err
}

func (c *Client) Latest(ctx context.Context, topic string) (TopicMessage, error) {
	var out TopicMessage
	err := c.do(ctx, http.MethodGet, "/api/topics/latest", url.Values{"topic": {topic}}, nil, &out)
	return out, notFoundAs(err, ErrTopicNotFound)
}

func (c *Client) ListTopics(ctx context.Context) ([]TopicInfo, error) {
	var out struct {
		Topics []TopicInfo `json:"topics"`
	}
	err := c.do(ctx, http.MethodGet, "/api/topics", nil, nil, &out)
	return out.Topics, err
}

func (c *Client) GetParam(ctx context.Context, key string) (any, error) {
	var out paramBody
	if err := c.do(ctx, http.MethodGet, "/api/params", url.Values{"key": {key}}, nil, &out); err != nil {
		return nil, notFoundAs(err, ErrParamNotFound)
	}
	return out.Value, nil
}

func (c *Client) SetParam(ctx context.Context, key string, value any) error {
	return c.do(ctx, http.MethodPut, "/api/params", nil, paramBody{Key: key, Value: value}, nil)
}

func (c *Client) DeleteParam(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/api/params", url.Values{"key": {key}}, nil, nil)
}

func (c *Client) ParamNames(ctx context.Context) ([]string, error) {
	var out struct {
		Names []string `json:"names"`
	}
	err := c.do(ctx, http.MethodGet, "/api/params/names", nil, nil, &out)
	return out.Names, err
}

// do returns *master.ConnectError for transport failures and *StatusError for non-2xx.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.endpoint.BaseURL() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("registry: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("registry: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return master.NewConnectError(c.endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return master.NewConnectError(c.endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &payload)
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Code: resp.StatusCode, Message: payload.Error}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("registry: decode response: %w", err)
	}
	return nil
}

func notFoundAs(err, sentinel error) error {
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", sentinel, se.Message)
	}
	return err
}
