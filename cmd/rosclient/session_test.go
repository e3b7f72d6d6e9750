package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/rosclient/internal/appmode"
	"github.com/danmuck/rosclient/internal/execution"
	"github.com/danmuck/rosclient/internal/master"
	"github.com/danmuck/rosclient/internal/registry"
	"github.com/danmuck/rosclient/internal/testutil/testlog"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("output never contained %q:\n%s", want, out.String())
}

func testClientConfig(t *testing.T) clientConfig {
	t.Helper()
	cfg := defaultClientConfig()
	cfg.Service.LockPath = filepath.Join(t.TempDir(), "rosclient.lock")
	cfg.Service.MasterStartTimeout = 3 * time.Second
	cfg.ProbeTimeout = time.Second
	cfg.SaveTimeout = 500 * time.Millisecond
	return cfg
}

type sessionResult struct {
	code int
	err  error
}

func startSession(t *testing.T, cfg clientConfig, opts runOptions) (*io.PipeWriter, *syncBuffer, <-chan sessionResult) {
	t.Helper()
	in, w := io.Pipe()
	out := &syncBuffer{}
	s, err := newSession(cfg, opts, in, out)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	done := make(chan sessionResult, 1)
	go func() {
		code, err := s.run(context.Background())
		done <- sessionResult{code: code, err: err}
	}()
	t.Cleanup(func() { _ = w.Close() })
	return w, out, done
}

func waitExit(t *testing.T, done <-chan sessionResult) sessionResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(10 * time.Second):
		t.Fatalf("session never exited")
		return sessionResult{}
	}
}

func TestSessionPrivateMasterCommands(t *testing.T) {
	testlog.Start(t)
	w, out, done := startSession(t, testClientConfig(t), runOptions{NewMaster: true, Private: true})

	waitOutput(t, out, "namespace /robot ready")
	fmt.Fprintln(w, "reset")
	waitOutput(t, out, "reset sent")
	fmt.Fprintln(w, "pose 1 2 0.5")
	waitOutput(t, out, "pose sent")
	fmt.Fprintln(w, "goal 1 2")
	waitOutput(t, out, "usage: goal")
	fmt.Fprintln(w, "save map0")
	waitOutput(t, out, "map map0 not saved: service not available")
	fmt.Fprintln(w, "status")
	waitOutput(t, out, "robot robot level")
	fmt.Fprintln(w, "quit")
	waitOutput(t, out, "shut down the session? [y/N]")
	fmt.Fprintln(w, "n")
	fmt.Fprintln(w, "quit!")

	res := waitExit(t, done)
	if res.err != nil || res.code != 0 {
		t.Fatalf("unexpected exit: %d %v", res.code, res.err)
	}
	waitOutput(t, out, "session closed")
}

func TestSessionInteractiveChooserReprompts(t *testing.T) {
	testlog.Start(t)
	w, out, done := startSession(t, testClientConfig(t), runOptions{})

	waitOutput(t, out, "master URI")
	fmt.Fprintln(w, "192.168.1.5")
	waitOutput(t, out, master.FailureInvalidAddress.Message())
	fmt.Fprintln(w, "q")

	res := waitExit(t, done)
	if res.code != 0 {
		t.Fatalf("cancel should exit cleanly, got %d %v", res.code, res.err)
	}
}

func TestSessionExistingMasterStandaloneBack(t *testing.T) {
	testlog.Start(t)
	srv := registry.NewServer(registry.ServerConfig{ListenAddr: "127.0.0.1:0", MasterID: "session.test"})
	if err := srv.Start(); err != nil {
		t.Fatalf("start master: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.AwaitStart(ctx); err != nil {
		t.Fatalf("await master: %v", err)
	}
	if err := registry.NewClient(srv.URI()).SetParam(ctx, "/robot/name", "kobuki"); err != nil {
		t.Fatalf("set robot name: %v", err)
	}

	w, out, done := startSession(t, testClientConfig(t), runOptions{Master: srv.URI().String()})
	waitOutput(t, out, "namespace /kobuki ready")
	fmt.Fprintln(w, "back")

	res := waitExit(t, done)
	if res.code != 0 || res.err != nil {
		t.Fatalf("unexpected exit: %d %v", res.code, res.err)
	}
}

func TestNewSessionRejectsBadLaunch(t *testing.T) {
	testlog.Start(t)
	_, err := newSession(testClientConfig(t), runOptions{Launch: appmode.Args{ModeTag: "paired"}}, strings.NewReader(""), io.Discard)
	if !errors.Is(err, appmode.ErrConfiguration) || exitCode(err) != 2 {
		t.Fatalf("expected configuration error with exit 2, got %v", err)
	}
	_, err = newSession(testClientConfig(t), runOptions{Master: "localhost:11311"}, strings.NewReader(""), io.Discard)
	if !errors.Is(err, master.ErrInvalidAddress) || exitCode(err) != 2 {
		t.Fatalf("expected address error with exit 2, got %v", err)
	}
}

func TestSessionSaverRemapsServiceNameOnce(t *testing.T) {
	testlog.Start(t)
	opts := runOptions{Launch: appmode.Args{Remappings: "{save_map: a, a: b}"}}
	s, err := newSession(testClientConfig(t), opts, strings.NewReader(""), io.Discard)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	saver := s.newSaver(master.Endpoint{}, func() bool { return true })
	if got := saver.ResolvedServiceName(); got != "/a" {
		t.Fatalf("save service resolved to %q, want /a", got)
	}
}

func TestUserMessage(t *testing.T) {
	ep := master.MustParseEndpoint("http://10.0.0.1")
	cases := []struct {
		err  error
		want string
	}{
		{err: &master.ConnectError{Endpoint: ep, Kind: master.FailureRefused, Err: errors.New("refused")}, want: master.FailureRefused.Message()},
		{err: fmt.Errorf("wrap: %w", master.ErrInvalidAddress), want: master.FailureInvalidAddress.Message()},
		{err: &execution.MasterStartError{Addr: "0.0.0.0:11311", Err: errors.New("in use")}, want: "unable to start a local master on 0.0.0.0:11311"},
		{err: registry.ErrServiceNotFound, want: "service not available"},
		{err: errors.New("other"), want: "other"},
	}
	for _, tc := range cases {
		if got := userMessage(tc.err); got != tc.want {
			t.Fatalf("userMessage(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestParsePose(t *testing.T) {
	x, y, th, err := parsePose([]string{"1", "-2.5", "3.14"})
	if err != nil || x != 1 || y != -2.5 || th != 3.14 {
		t.Fatalf("unexpected parse: %v %v %v %v", x, y, th, err)
	}
	if _, _, _, err := parsePose([]string{"1", "x", "2"}); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, _, _, err := parsePose(nil); err == nil {
		t.Fatalf("expected arity error")
	}
}
