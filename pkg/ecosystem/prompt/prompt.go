// Package prompt asks the operator for params no other source supplied.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/chzyer/readline"
)

// ErrAborted is returned when the operator interrupts a prompt.
var ErrAborted = errors.New("prompt aborted")

// LineReader is the subset of *readline.Instance the resolver uses.
type LineReader interface {
	Readline() (string, error)
	ReadPassword(prompt string) ([]byte, error)
	SetPrompt(prompt string)
}

// Resolver is an engine.VarResolver that reads each missing param from
// the terminal. Params named in Secret are read without echo.
type Resolver struct {
	Reader LineReader
	Secret []string
}

// Open starts a readline session on the terminal. Close it when done.
func Open(secret []string) (*Resolver, io.Closer, error) {
	rl, err := readline.NewEx(&readline.Config{
		InterruptPrompt: "^C",
		EOFPrompt:       "",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init readline: %w", err)
	}
	return &Resolver{Reader: rl, Secret: secret}, rl, nil
}

func (r *Resolver) Resolve(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	label := name + ": "
	if slices.Contains(r.Secret, name) {
		b, err := r.Reader.ReadPassword(label)
		if err != nil {
			return "", false, classify(err)
		}
		return string(b), true, nil
	}
	r.Reader.SetPrompt(label)
	line, err := r.Reader.Readline()
	if err != nil {
		return "", false, classify(err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false, nil
	}
	return line, true, nil
}

func classify(err error) error {
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return ErrAborted
	}
	return err
}
