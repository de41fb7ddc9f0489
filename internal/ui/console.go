package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/matthewbaird/ganyclient/internal/remote"
)

// Console presents dialogs on a terminal. With AssumeYes set it never
// reads input: confirmations succeed and dialogs take their defaults.
type Console struct {
	mu        sync.Mutex
	in        *bufio.Reader
	out       io.Writer
	AssumeYes bool
}

var _ Presenter = (*Console)(nil)

// NewConsole creates a console presenter.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

func (c *Console) readLine() (string, bool) {
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

// Ask prompts for every dialog field in turn. End of input dismisses the
// dialog.
func (c *Console) Ask(_ context.Context, d *remote.Dialog) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "== %s ==\n", d.Title)
	if d.Text != "" {
		fmt.Fprintln(c.out, d.Text)
	}
	answers := make(map[string]string, len(d.Fields))
	for _, f := range d.Fields {
		if c.AssumeYes {
			answers[f.Name] = f.Default
			continue
		}
		prompt := f.Label
		if len(f.Choices) > 0 {
			prompt += " (" + strings.Join(f.Choices, "/") + ")"
		}
		if f.Default != "" {
			prompt += " [" + f.Default + "]"
		}
		fmt.Fprintf(c.out, "%s: ", prompt)
		line, ok := c.readLine()
		if !ok {
			fmt.Fprintln(c.out)
			return nil, false
		}
		if line == "" {
			line = f.Default
		}
		answers[f.Name] = line
	}
	if len(d.Fields) == 0 && !c.AssumeYes {
		ok := d.OK
		if ok == "" {
			ok = "ok"
		}
		fmt.Fprintf(c.out, "%s? [y/N] ", ok)
		line, read := c.readLine()
		if !read || !isYes(line) {
			return nil, false
		}
	}
	return answers, true
}

func (c *Console) ShowError(title, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "error: %s: %s\n", title, text)
}

func (c *Console) ShowMessage(title, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s: %s\n", title, text)
}

func (c *Console) SetStatus(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if text != "" {
		fmt.Fprintf(c.out, "-- %s\n", text)
	}
}

func (c *Console) Confirm(_ context.Context, title, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s: %s\n", title, text)
	if c.AssumeYes {
		return true
	}
	fmt.Fprint(c.out, "continue? [y/N] ")
	line, ok := c.readLine()
	return ok && isYes(line)
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}
