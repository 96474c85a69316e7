// Package interactive provides the interactive command-line interface
// for objlink-peer.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/objlink/objlink-go/internal/chat"
)

// ErrNoPeers is returned by Peer.Broadcast when nothing is connected.
var ErrNoPeers = errors.New("no connected peers")

// Peer is the part of a running peer the console drives.
type Peer interface {
	// Broadcast writes obj to every connected socket and returns how many
	// accepted it.
	Broadcast(obj any) (int, error)

	// Status describes the peer, one line per entry.
	Status() []string
}

// Console handles interactive mode for objlink-peer.
type Console struct {
	peer   Peer
	author *chat.Author
	rl     *readline.Instance
	out    io.Writer
}

// New creates a console that signs messages with name.
func New(peer Peer, name string) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "objlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := newConsole(peer, name, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(peer Peer, name string, out io.Writer) *Console {
	return &Console{
		peer:   peer,
		author: &chat.Author{Name: name},
		out:    out,
	}
}

// Stdout returns a writer that does not clobber the prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run reads commands until quit, EOF or ctx ends. It calls cancel on exit
// so that main shuts down too.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.execute(line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// execute runs one command line and reports whether to keep going.
func (c *Console) execute(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "help", "?":
		c.printHelp()

	case "send", "say":
		c.cmdSend(rest)

	case "status", "s":
		c.cmdStatus()

	case "quit", "exit", "q":
		return false

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) cmdSend(text string) {
	if text == "" {
		fmt.Fprintln(c.out, "Usage: send <text>")
		return
	}
	n, err := c.peer.Broadcast(c.author.Compose(text))
	if err != nil {
		fmt.Fprintf(c.out, "Send failed: %v\n", err)
		return
	}
	if n > 1 {
		fmt.Fprintf(c.out, "Sent to %d peers\n", n)
	}
}

func (c *Console) cmdStatus() {
	lines := c.peer.Status()
	if len(lines) == 0 {
		fmt.Fprintln(c.out, "No status available")
		return
	}
	for _, l := range lines {
		fmt.Fprintln(c.out, l)
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  send <text>   Send a chat message (alias: say)
  status        Show connections (alias: s)
  help          Show this help (alias: ?)
  quit          Exit (aliases: exit, q)`)
}
