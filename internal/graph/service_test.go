package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/rosclient/internal/boundcall"
	"github.com/danmuck/rosclient/internal/registry"
	"github.com/danmuck/rosclient/internal/testutil/testlog"
)

type echoReq struct {
	Text string `json:"text"`
}

type echoResp struct {
	Upper string `json:"upper"`
}

func TestServiceAdvertiseLocateCall(t *testing.T) {
	testlog.Start(t)
	srv := startMaster(t)
	exec := NewExecutor()
	t.Cleanup(exec.Shutdown)
	node := newTestNode("provider")
	if _, err := exec.Execute(node, NewPrivateConfig(srv.URI()).WithNamespace("/robot")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	conn := waitConn(t, node)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	provider, err := Advertise(ctx, conn, "echo", func(_ context.Context, req echoReq) (echoResp, error) {
		if req.Text == "" {
			return echoResp{}, errors.New("empty text")
		}
		return echoResp{Upper: strings.ToUpper(req.Text)}, nil
	})
	if err != nil {
		t.Fatalf("advertise: %v", err)
	}
	defer provider.Close(context.Background())
	if provider.Name() != "/robot/echo" {
		t.Fatalf("unexpected service name: %s", provider.Name())
	}

	client, err := Locate[echoReq, echoResp](ctx, registry.NewClient(srv.URI()), "/robot/echo")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	resp, err := client.Call(ctx, echoReq{Text: "map"})
	if err != nil || resp.Upper != "MAP" {
		t.Fatalf("unexpected call result: %+v err=%v", resp, err)
	}

	out := boundcall.Call[echoReq, echoResp](ctx, client, echoReq{}, time.Second)
	var remote *RemoteError
	if out.Kind != boundcall.Failure || !errors.As(out.Err, &remote) {
		t.Fatalf("expected remote failure, got %+v", out)
	}
}

func TestLocateMissingService(t *testing.T) {
	testlog.Start(t)
	srv := startMaster(t)
	_, err := Locate[echoReq, echoResp](context.Background(), registry.NewClient(srv.URI()), "/nope")
	if !errors.Is(err, registry.ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}
