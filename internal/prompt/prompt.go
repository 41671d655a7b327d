// Package prompt asks the user whether a pending update should be installed.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Prompter asks a yes/no question. A nil answer means the user could not be
// asked or did not decide; the question is repeated on a later boot.
type Prompter interface {
	AskUser(ctx context.Context, title, description string) (*bool, error)
}

// Func adapts a function to Prompter.
type Func func(ctx context.Context, title, description string) (*bool, error)

func (f Func) AskUser(ctx context.Context, title, description string) (*bool, error) {
	return f(ctx, title, description)
}

// Answer returns a pointer to b.
func Answer(b bool) *bool { return &b }

// Fallback returns a fixed configured answer, which may be nil.
type Fallback struct {
	Answer *bool
}

func (f Fallback) AskUser(context.Context, string, string) (*bool, error) {
	return f.Answer, nil
}

// Chain asks each prompter in order and returns the first decided answer.
// Errors from earlier prompters are skipped so a broken terminal falls
// through to the configured fallback.
type Chain []Prompter

func (c Chain) AskUser(ctx context.Context, title, description string) (*bool, error) {
	var firstErr error
	for _, p := range c {
		if p == nil {
			continue
		}
		answer, err := p.AskUser(ctx, title, description)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if answer != nil {
			return answer, nil
		}
	}
	return nil, firstErr
}

// Terminal asks on a line-oriented reader and writer.
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

func (t Terminal) AskUser(ctx context.Context, title, description string) (*bool, error) {
	if _, err := fmt.Fprintf(t.Out, "%s\n", title); err != nil {
		return nil, err
	}
	if description != "" {
		if _, err := fmt.Fprintf(t.Out, "\n%s\n\n", description); err != nil {
			return nil, err
		}
	}
	if _, err := fmt.Fprint(t.Out, "Install now? [y/n]: "); err != nil {
		return nil, err
	}

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(t.In).ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			if r.err == io.EOF {
				return nil, nil
			}
			return nil, r.err
		}
		return parseAnswer(r.line), nil
	}
}

func parseAnswer(line string) *bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "accept", "true":
		return Answer(true)
	case "n", "no", "reject", "false":
		return Answer(false)
	default:
		return nil
	}
}
