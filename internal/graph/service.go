package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/rosclient/internal/registry"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RemoteError is a failure reported by the service provider itself.
type RemoteError struct {
	Service string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("graph: service %s failed: %s", e.Service, e.Message)
}

type serviceEnvelope struct {
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ServiceServer provides a named service over HTTP JSON and registers it with the master.
type ServiceServer[Req, Resp any] struct {
	name    string
	uri     string
	master  *registry.Client
	httpSrv *http.Server
}

// Advertise starts a provider for name (resolved against conn) on the node's host.
func Advertise[Req, Resp any](ctx context.Context, conn *Conn, name string, handler func(context.Context, Req) (Resp, error)) (*ServiceServer[Req, Resp], error) {
	resolved := conn.Resolver().Resolve(name)
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/call", func(c *gin.Context) {
		var req Req
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, serviceEnvelope{Error: err.Error()})
			return
		}
		resp, err := handler(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, serviceEnvelope{Error: err.Error()})
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			c.JSON(http.StatusInternalServerError, serviceEnvelope{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, serviceEnvelope{Response: data})
	})

	host := conn.Config().Host
	if host == "" {
		host = loopbackHost
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("graph: advertise %s: %w", resolved, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	s := &ServiceServer[Req, Resp]{
		name:    resolved,
		uri:     "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/call",
		master:  conn.Master(),
		httpSrv: &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second},
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("service", resolved).Msg("graph.ServiceServer.serve failed")
		}
	}()

	if _, err := s.master.RegisterService(ctx, registry.ServiceInfo{
		Name:     resolved,
		Provider: conn.Name(),
		URI:      s.uri,
	}); err != nil {
		_ = s.httpSrv.Close()
		return nil, fmt.Errorf("graph: register service %s: %w", resolved, err)
	}
	log.Info().Str("service", resolved).Str("uri", s.uri).Msg("graph.ServiceServer advertised")
	return s, nil
}

func (s *ServiceServer[Req, Resp]) Name() string {
	return s.name
}

func (s *ServiceServer[Req, Resp]) URI() string {
	return s.uri
}

// Close unregisters the service and stops serving.
func (s *ServiceServer[Req, Resp]) Close(ctx context.Context) error {
	if err := s.master.UnregisterService(ctx, s.name); err != nil && !errors.Is(err, registry.ErrServiceNotFound) {
		log.Debug().Err(err).Str("service", s.name).Msg("graph.ServiceServer.Close unregister failed")
	}
	return s.httpSrv.Shutdown(ctx)
}

// ServiceClient calls one located provider. It satisfies boundcall.AsyncTransport.
type ServiceClient[Req, Resp any] struct {
	info registry.ServiceInfo
	http *http.Client
}

// Locate looks name up on the master. A missing provider is registry.ErrServiceNotFound.
func Locate[Req, Resp any](ctx context.Context, m *registry.Client, name string) (*ServiceClient[Req, Resp], error) {
	info, err := m.LookupService(ctx, name)
	if err != nil {
		return nil, err
	}
	return &ServiceClient[Req, Resp]{info: info, http: &http.Client{}}, nil
}

func (c *ServiceClient[Req, Resp]) Name() string {
	return c.info.Name
}

func (c *ServiceClient[Req, Resp]) URI() string {
	return c.info.URI
}

// Call performs the request synchronously.
func (c *ServiceClient[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var zero Resp
	body, err := json.Marshal(req)
	if err != nil {
		return zero, fmt.Errorf("graph: encode request for %s: %w", c.info.Name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.info.URI, bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("graph: build request for %s: %w", c.info.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return zero, fmt.Errorf("graph: call %s: %w", c.info.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return zero, fmt.Errorf("graph: read %s: %w", c.info.Name, err)
	}
	var env serviceEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return zero, fmt.Errorf("graph: decode %s: %w", c.info.Name, err)
	}
	if resp.StatusCode != http.StatusOK || env.Error != "" {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return zero, &RemoteError{Service: c.info.Name, Message: msg}
	}
	var out Resp
	if err := json.Unmarshal(env.Response, &out); err != nil {
		return zero, fmt.Errorf("graph: decode %s response: %w", c.info.Name, err)
	}
	return out, nil
}

func (c *ServiceClient[Req, Resp]) CallAsync(ctx context.Context, req Req, onSuccess func(Resp), onFailure func(error)) {
	go func() {
		resp, err := c.Call(ctx, req)
		if err != nil {
			onFailure(err)
			return
		}
		onSuccess(resp)
	}()
}
