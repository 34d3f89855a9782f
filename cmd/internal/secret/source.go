package secret

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNoTerminal is returned when the secret is neither in the environment nor
// obtainable from an interactive prompt.
var ErrNoTerminal = errors.New("secret: no terminal available")

// Source resolves a shared secret from an environment variable, falling back
// to a hidden prompt when in is a terminal. The first result is cached.
type Source struct {
	envVar string
	label  string
	in     *os.File
	out    io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource returns a Source reading envVar first. in may be nil, in which case
// prompting is disabled.
func NewSource(envVar, label string, in *os.File, out io.Writer) *Source {
	if out == nil {
		out = io.Discard
	}
	return &Source{envVar: strings.TrimSpace(envVar), label: label, in: in, out: out}
}

func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("secret: %s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if s.in == nil || !term.IsTerminal(int(s.in.Fd())) {
		if s.envVar != "" {
			return "", fmt.Errorf("%w: set %s or run interactively", ErrNoTerminal, s.envVar)
		}
		return "", ErrNoTerminal
	}

	fmt.Fprintf(s.out, "Enter %s: ", s.label)
	raw, err := term.ReadPassword(int(s.in.Fd()))
	fmt.Fprintln(s.out)
	if err != nil {
		return "", fmt.Errorf("secret: read %s: %w", s.label, err)
	}
	value := string(raw)
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("secret: %s cannot be empty", s.label)
	}
	return value, nil
}
