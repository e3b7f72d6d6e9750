package lifecycle

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/rosclient/internal/master"
	"github.com/danmuck/rosclient/internal/registry"
)

// Choice is the result of one master-selection interaction.
type Choice struct {
	Kind     ChoiceKind
	Endpoint master.Endpoint
	Private  bool
	Hostname string
}

func ExistingMaster(ep master.Endpoint) Choice {
	return Choice{Kind: ChoiceExisting, Endpoint: ep}
}

func NewMaster(private bool) Choice {
	return Choice{Kind: ChoiceCreateNew, Private: private}
}

func Cancelled() Choice {
	return Choice{Kind: ChoiceCancelled}
}

// Chooser asks for a master. It runs off the foreground goroutine and must
// return a cancelled choice when ctx ends.
type Chooser interface {
	Choose(ctx context.Context) Choice
}

type ChooserFunc func(ctx context.Context) Choice

func (f ChooserFunc) Choose(ctx context.Context) Choice {
	return f(ctx)
}

// StaticChooser always returns the same choice.
type StaticChooser struct {
	Choice Choice
}

func (s StaticChooser) Choose(context.Context) Choice {
	return s.Choice
}

// ProbeFunc checks that a master answers before it is accepted.
type ProbeFunc func(ctx context.Context, ep master.Endpoint) error

// RegistryProbe asks the master for its own URI.
func RegistryProbe(timeout time.Duration) ProbeFunc {
	return func(ctx context.Context, ep master.Endpoint) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		_, err := registry.NewClient(ep, registry.WithTimeout(timeout)).GetURI(ctx)
		return err
	}
}

// ScanLines feeds r line by line into the returned channel, closing it at EOF
// or once ctx ends. A read already blocked on r is not interrupted.
func ScanLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// TerminalChooser prompts on Out and reads answers from Lines.
//
//	<uri>     existing master, validated and probed
//	new       new public master (also an empty line)
//	private   new private master
//	q         cancel
type TerminalChooser struct {
	Lines    <-chan string
	Out      io.Writer
	Probe    ProbeFunc
	Hostname string
}

func (c *TerminalChooser) Choose(ctx context.Context) Choice {
	for {
		fmt.Fprint(c.Out, "master URI [http://host:11311/ | new | private | q]: ")
		var line string
		select {
		case <-ctx.Done():
			return Cancelled()
		case l, ok := <-c.Lines:
			if !ok {
				return Cancelled()
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "q", "quit", "cancel":
			return Cancelled()
		case "", "new":
			choice := NewMaster(false)
			choice.Hostname = c.Hostname
			return choice
		case "private":
			return NewMaster(true)
		}

		ep, err := master.ParseEndpoint(line)
		if err != nil {
			fmt.Fprintln(c.Out, master.FailureInvalidAddress.Message())
			continue
		}
		if c.Probe != nil {
			if err := c.Probe(ctx, ep); err != nil {
				fmt.Fprintln(c.Out, master.ClassifyConnectError(err).Message())
				continue
			}
		}
		choice := ExistingMaster(ep)
		choice.Hostname = c.Hostname
		return choice
	}
}
