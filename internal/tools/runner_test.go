package tools

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/danmuck/rosclient/internal/testutil/testlog"
)

func TestExecRunnerCapturesOutput(t *testing.T) {
	testlog.Start(t)
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	res, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo out; echo err 1>&2")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(string(res.Stdout)) != "out" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(string(res.Stderr)) != "err" {
		t.Fatalf("stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit = %d", res.ExitCode)
	}
}

func TestExecRunnerExitCode(t *testing.T) {
	testlog.Start(t)
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	res, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "exit 3")
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit = %d, want 3", res.ExitCode)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	testlog.Start(t)
	res, err := ExecRunner{}.Run(context.Background(), "rosclient-no-such-binary")
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != 127 {
		t.Fatalf("exit = %d, want 127", res.ExitCode)
	}
}
