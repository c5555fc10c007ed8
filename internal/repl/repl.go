// Package repl is the interactive front end over one session controller.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/manash/stylist/internal/cost"
	"github.com/manash/stylist/internal/display"
	"github.com/manash/stylist/internal/image"
	"github.com/manash/stylist/internal/ledger"
	"github.com/manash/stylist/internal/session"
	"github.com/manash/stylist/pkg/models"
)

type REPL struct {
	in        io.Reader
	out       io.Writer
	err       io.Writer
	ctrl      *session.Controller
	registry  *models.ModelRegistry
	available map[string]bool
	displayer *display.Displayer
	saver     *image.Saver
	ledger    *ledger.Store
	recorder  *ledger.Recorder
	calc      *cost.Calculator
	outputDir string
	commands  map[string]Command
	running   bool
}

type Config struct {
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
	Controller *session.Controller
	Registry   *models.ModelRegistry
	// Models limits `model` to names a configured provider can serve. Empty
	// means every registered model.
	Models    []string
	Displayer *display.Displayer
	Saver     *image.Saver
	// Ledger and Recorder are optional; without them `cost` reports that no
	// ledger is open.
	Ledger     *ledger.Store
	Recorder   *ledger.Recorder
	Calculator *cost.Calculator
	OutputDir  string
}

func New(cfg *Config) *REPL {
	r := &REPL{
		in:        cfg.In,
		out:       cfg.Out,
		err:       cfg.Err,
		ctrl:      cfg.Controller,
		registry:  cfg.Registry,
		displayer: cfg.Displayer,
		saver:     cfg.Saver,
		ledger:    cfg.Ledger,
		recorder:  cfg.Recorder,
		calc:      cfg.Calculator,
		outputDir: cfg.OutputDir,
		commands:  make(map[string]Command),
	}
	if r.registry == nil {
		r.registry = models.DefaultRegistry()
	}
	if r.displayer == nil {
		r.displayer = display.NewWithSupport(r.out, false)
	}
	if r.calc == nil {
		r.calc = cost.NewCalculator(nil)
	}
	if r.saver == nil {
		r.saver = image.NewSaver()
	}
	names := cfg.Models
	if len(names) == 0 {
		names = r.registry.List()
	}
	r.available = make(map[string]bool, len(names))
	for _, name := range names {
		r.available[name] = true
	}
	r.registerCommands()
	return r
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	return cmd.Execute(ctx, r, args)
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "stylist interactive mode")
	fmt.Fprintln(r.out, "Set 'reference', 'product', 'title' and 'price', then 'generate'.")
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'quit' to exit.")
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	v := r.ctrl.View()
	if v.HasCurrent {
		fmt.Fprintf(r.out, "stylist [%s] (v%d/%d)> ", v.Model, v.Position.Index, v.Position.Total)
	} else {
		fmt.Fprintf(r.out, "stylist [%s]> ", v.Model)
	}
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
