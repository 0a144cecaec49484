package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lokutor-ai/promptdj/pkg/engine"
)

var errUsage = errors.New("usage: p | s | w <id> <weight> | l | q")

type controller interface {
	PlayPause(ctx context.Context) error
	Stop() error
	SetWeight(id string, weight float64) error
	Prompts() []engine.Prompt
	IsFiltered(text string) bool
}

// runCommand executes one stdin command. It reports whether the user asked
// to quit.
func runCommand(ctx context.Context, c controller, line string, w io.Writer) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "p":
		err := c.PlayPause(ctx)
		if errors.Is(err, engine.ErrPlayAborted) {
			return false, nil
		}
		return false, err
	case "s":
		return false, c.Stop()
	case "w":
		if len(fields) != 3 {
			return false, errUsage
		}
		weight, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return false, fmt.Errorf("invalid weight %q: %w", fields[2], err)
		}
		return false, c.SetWeight(fields[1], weight)
	case "l":
		printPrompts(w, c)
		return false, nil
	case "q":
		return true, nil
	}
	return false, errUsage
}

func printPrompts(w io.Writer, c controller) {
	for _, p := range c.Prompts() {
		mark := " "
		if p.Weight > 0 {
			mark = "*"
		}
		if c.IsFiltered(p.Text) {
			mark = "x"
		}
		fmt.Fprintf(w, "%s %-10s cc%-3d %4.2f  %s\n", mark, p.ID, p.CC, p.Weight, p.Text)
	}
}
