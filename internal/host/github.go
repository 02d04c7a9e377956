// Package host adapts CI environments to the action.Host capability.
package host

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/austindbirch/zekt_action/internal/delivery"
)

// GitHub is the GitHub Actions runner: inputs come from INPUT_* variables,
// outputs go to the $GITHUB_OUTPUT file and diagnostics are workflow commands
// on stdout.
type GitHub struct {
	getenv func(string) string
	out    io.Writer

	mu     sync.Mutex
	failed bool
}

func NewGitHub() *GitHub {
	return NewGitHubWith(os.Getenv, os.Stdout)
}

// NewGitHubWith builds a runner host over a custom environment and stdout.
func NewGitHubWith(getenv func(string) string, out io.Writer) *GitHub {
	return &GitHub{getenv: getenv, out: out}
}

// Input returns the trimmed value of INPUT_<NAME>, or "".
func (g *GitHub) Input(name string) string {
	key := "INPUT_" + strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
	return strings.TrimSpace(g.getenv(key))
}

// SetOutput appends name=value to $GITHUB_OUTPUT using a random heredoc
// delimiter. Runners without the file get the legacy set-output command.
func (g *GitHub) SetOutput(name, value string) error {
	path := g.getenv("GITHUB_OUTPUT")
	if path == "" {
		g.command("set-output", map[string]string{"name": name}, value)
		return nil
	}

	delim := "ghadelimiter_" + uuid.NewString()
	if strings.Contains(name, delim) || strings.Contains(value, delim) {
		return fmt.Errorf("output %q: value contains the delimiter %q", name, delim)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open GITHUB_OUTPUT: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s<<%s\n%s\n%s\n", name, delim, value, delim); err != nil {
		return fmt.Errorf("write output %q: %w", name, err)
	}
	return nil
}

// Context reads the run metadata the runner exports.
func (g *GitHub) Context() delivery.GitHubContext {
	return delivery.GitHubContext{
		Repository: g.getenv("GITHUB_REPOSITORY"),
		Workflow:   g.getenv("GITHUB_WORKFLOW"),
		Job:        g.getenv("GITHUB_JOB"),
		Actor:      g.getenv("GITHUB_ACTOR"),
		EventName:  g.getenv("GITHUB_EVENT_NAME"),
		Ref:        g.getenv("GITHUB_REF"),
		SHA:        g.getenv("GITHUB_SHA"),
	}
}

// SetFailed emits an error annotation and marks the step as failed.
func (g *GitHub) SetFailed(msg string) {
	g.mu.Lock()
	g.failed = true
	g.mu.Unlock()
	g.command("error", nil, msg)
}

// Failed reports whether SetFailed was called.
func (g *GitHub) Failed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed
}

// Mask registers secret so the runner scrubs it from all later log output.
func (g *GitHub) Mask(secret string) {
	g.command("add-mask", nil, secret)
}

func (g *GitHub) Debugf(format string, args ...any) {
	g.command("debug", nil, fmt.Sprintf(format, args...))
}

func (g *GitHub) Infof(format string, args ...any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fmt.Fprintln(g.out, fmt.Sprintf(format, args...))
}

func (g *GitHub) Warnf(format string, args ...any) {
	g.command("warning", nil, fmt.Sprintf(format, args...))
}

// command writes ::name key=value,...::message
func (g *GitHub) command(name string, props map[string]string, msg string) {
	var b strings.Builder
	b.WriteString("::")
	b.WriteString(name)
	if len(props) > 0 {
		b.WriteByte(' ')
		first := true
		for k, v := range props {
			if !first {
				b.WriteByte(',')
			}
			first = false
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(escapeProperty(v))
		}
	}
	b.WriteString("::")
	b.WriteString(escapeData(msg))

	g.mu.Lock()
	defer g.mu.Unlock()
	fmt.Fprintln(g.out, b.String())
}

var (
	dataEscaper = strings.NewReplacer(
		"%", "%25",
		"\r", "%0D",
		"\n", "%0A",
	)
	propertyEscaper = strings.NewReplacer(
		"%", "%25",
		"\r", "%0D",
		"\n", "%0A",
		":", "%3A",
		",", "%2C",
	)
)

func escapeData(s string) string     { return dataEscaper.Replace(s) }
func escapeProperty(s string) string { return propertyEscaper.Replace(s) }
