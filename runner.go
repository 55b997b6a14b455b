package tiller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/tiller/pkg/domain"
)

// Runner handles an interactive chat loop against an Engine using provided IO.
// This allows for easy testing and integration with different frontends (CLI, TUI, etc).
type Runner struct {
	Input    io.Reader
	Output   io.Writer
	Headless bool
	Renderer ContentRenderer

	// CustomerName is attached to every turn.
	CustomerName string
}

// ContentRenderer is a function that transforms reply text before outputting it.
// This allows for TUI rendering (markdown to ANSI) without coupling the core package.
type ContentRenderer func(string) (string, error)

// NewRunner creates a new Runner. Input and Output must be set before Run
// (use os.Stdin / os.Stdout).
func NewRunner() *Runner {
	return &Runner{}
}

// Run executes the chat loop until EOF or an exit command.
func (r *Runner) Run(ctx context.Context, engine *Engine, sessionID string) error {
	if r.Input == nil {
		return fmt.Errorf("input reader must be set (use os.Stdin)")
	}
	if r.Output == nil {
		return fmt.Errorf("output writer must be set (use os.Stdout)")
	}
	lineReader := bufio.NewReader(r.Input)
	writer := r.Output

	if err := engine.StartSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	if !r.Headless {
		fmt.Fprintln(writer, "--- Tiller Chat ---")
	}

	// Replay the existing transcript so reconnecting to a session shows
	// its history.
	offset, err := r.printNewEvents(ctx, engine, sessionID, 0)
	if err != nil {
		return err
	}

	for {
		fmt.Fprint(writer, "> ")
		text, err := lineReader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// Graceful exit on EOF
				break
			}
			return fmt.Errorf("input error: %w", err)
		}
		input := strings.TrimSpace(text)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(writer, "Bye!")
			break
		}

		err = engine.Send(ctx, sessionID, input, TurnOptions{CustomerName: r.CustomerName})
		if err != nil && !errors.Is(err, domain.ErrTurnCancelled) {
			return fmt.Errorf("turn failed: %w", err)
		}

		offset, err = r.printNewEvents(ctx, engine, sessionID, offset)
		if err != nil {
			return err
		}
	}
	return nil
}

// printNewEvents prints agent messages past minOffset and returns the next
// offset to poll from.
func (r *Runner) printNewEvents(ctx context.Context, engine *Engine, sessionID string, minOffset int64) (int64, error) {
	events, err := engine.Events(ctx, sessionID, minOffset)
	if err != nil {
		return minOffset, fmt.Errorf("failed to read events: %w", err)
	}

	next := minOffset
	for _, ev := range events {
		if ev.Offset >= next {
			next = ev.Offset + 1
		}
		if ev.Kind != domain.EventMessage {
			continue
		}
		data, ok := domain.AsMessageData(ev.Data)
		if !ok {
			continue
		}

		switch ev.Source {
		case domain.SourceAgent:
			output := data.Text
			if data.NoMatch {
				output = "(no suitable response)"
			} else if r.Renderer != nil {
				if rendered, err := r.Renderer(output); err == nil {
					output = rendered
				}
			}
			fmt.Fprintln(r.Output, strings.TrimSpace(output))
		case domain.SourceCustomer:
			if minOffset == 0 && !r.Headless {
				// Transcript replay only; live input is already on screen.
				fmt.Fprintf(r.Output, "> %s\n", data.Text)
			}
		}
	}
	return next, nil
}
