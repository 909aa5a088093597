package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BadgerOps/packsync/internal/engine"
	"golang.org/x/term"
)

// promptPolicy asks the user whether each unresolved file should be bundled.
// Without a terminal on stdin every file is dropped.
type promptPolicy struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	logger      *slog.Logger
	warned      bool
}

func newPromptPolicy(in *os.File, out io.Writer, logger *slog.Logger) *promptPolicy {
	return &promptPolicy{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: term.IsTerminal(int(in.Fd())),
		logger:      logger,
	}
}

func (p *promptPolicy) Include(ctx context.Context, c engine.Candidate) (bool, error) {
	if !p.interactive {
		if !p.warned {
			p.logger.Warn("stdin is not a terminal; unresolved files will not be bundled (use --force-override to bundle them)")
			p.warned = true
		}
		return false, nil
	}

	outcome := c.Outcome.String()
	if c.Reason != "" {
		outcome += ": " + c.Reason
	}
	question := fmt.Sprintf("%s was not found in the registry (%s, %s). Add it as an override?",
		c.Path, outcome, formatBytes(c.Size))
	return askYesNo(ctx, p.in, p.out, question)
}

// askYesNo repeats the question until the answer is y/yes or n/no. End of
// input is an error.
func askYesNo(ctx context.Context, in *bufio.Reader, out io.Writer, question string) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "%s (y/n) ", question)

		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return false, fmt.Errorf("reading answer: %w", err)
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		if errors.Is(err, io.EOF) {
			return false, fmt.Errorf("reading answer: %w", io.ErrUnexpectedEOF)
		}
		fmt.Fprintln(out, "Please answer y or n.")
	}
}
