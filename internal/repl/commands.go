package repl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/manash/stylist/internal/display"
	"github.com/manash/stylist/internal/image"
	"github.com/manash/stylist/internal/ledger"
	"github.com/manash/stylist/internal/security"
	"github.com/manash/stylist/internal/session"
	"github.com/manash/stylist/pkg/models"
)

var (
	ErrNoCurrentImage = errors.New("no current image - use 'generate' first")
	ErrNavigateBusy   = errors.New("a generation is in progress, wait for it to finish")
	ErrNoLedger       = errors.New("no ledger open")
)

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

func allCommands() []Command {
	return []Command{
		&ImageCommand{name: "reference", aliases: []string{"ref"}, slot: session.SlotReference},
		&ImageCommand{name: "product", aliases: []string{"prod"}, slot: session.SlotProduct},
		&ImageCommand{name: "attach", aliases: []string{"logo"}, slot: session.SlotAuxiliary},
		&DetachCommand{},
		&TextCommand{name: "title", set: (*session.Controller).SetTitle},
		&TextCommand{name: "price", set: (*session.Controller).SetPrice},
		&TextCommand{name: "oldprice", aliases: []string{"old"}, set: (*session.Controller).SetOldPrice, optional: true},
		&GenerateCommand{},
		&RefineCommand{},
		&NavigateCommand{name: "prev", aliases: []string{"back", "undo"}, forward: false},
		&NavigateCommand{name: "next", aliases: []string{"forward", "redo"}, forward: true},
		&ShowCommand{},
		&SaveCommand{},
		&HistoryCommand{},
		&StatusCommand{},
		&ModelCommand{},
		&CostCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}
}

func (r *REPL) registerCommands() {
	for _, cmd := range allCommands() {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// ImageCommand loads a file into one of the input slots.
type ImageCommand struct {
	name    string
	aliases []string
	slot    session.Slot
}

func (c *ImageCommand) Name() string      { return c.name }
func (c *ImageCommand) Aliases() []string { return c.aliases }
func (c *ImageCommand) Usage() string     { return c.name + " <path>" }

func (c *ImageCommand) Description() string {
	switch c.slot {
	case session.SlotReference:
		return "Set the style reference image"
	case session.SlotProduct:
		return "Set the product photo"
	default:
		return "Attach an image for the next refinement (e.g. a logo)"
	}
}

func (c *ImageCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	path := strings.Join(args, " ")
	if err := r.ctrl.Attach(ctx, c.slot, path); err != nil {
		return err
	}

	img := slotImage(r.ctrl.Inputs(), c.slot)
	fmt.Fprintf(r.out, "%s: %s (%s)\n", slotTitle(c.slot), filepath.Base(path), describeSlot(img))
	return nil
}

// DetachCommand drops the auxiliary image.
type DetachCommand struct{}

func (c *DetachCommand) Name() string        { return "detach" }
func (c *DetachCommand) Aliases() []string   { return nil }
func (c *DetachCommand) Description() string { return "Remove the attached refinement image" }
func (c *DetachCommand) Usage() string       { return "detach" }

func (c *DetachCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.ctrl.ClearAuxiliary()
	fmt.Fprintln(r.out, "Attachment removed")
	return nil
}

// TextCommand sets one of the text inputs.
type TextCommand struct {
	name     string
	aliases  []string
	set      func(*session.Controller, string)
	optional bool
}

func (c *TextCommand) Name() string      { return c.name }
func (c *TextCommand) Aliases() []string { return c.aliases }

func (c *TextCommand) Description() string {
	switch c.name {
	case "title":
		return "Set the product title"
	case "price":
		return "Set the current price"
	default:
		return "Set the previous price shown struck through (empty clears)"
	}
}

func (c *TextCommand) Usage() string {
	if c.optional {
		return c.name + " [text]"
	}
	return c.name + " <text>"
}

func (c *TextCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 && !c.optional {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	value := strings.Join(args, " ")
	c.set(r.ctrl, value)

	if value == "" {
		fmt.Fprintf(r.out, "%s cleared\n", c.name)
		return nil
	}
	fmt.Fprintf(r.out, "%s: %s\n", c.name, value)
	return nil
}

// GenerateCommand composes the product into the reference style.
type GenerateCommand struct{}

func (c *GenerateCommand) Name() string      { return "generate" }
func (c *GenerateCommand) Aliases() []string { return []string{"gen", "g"} }
func (c *GenerateCommand) Description() string {
	return "Generate a styled product image from the inputs"
}
func (c *GenerateCommand) Usage() string { return "generate" }

func (c *GenerateCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	fmt.Fprintf(r.out, "Generating with %s...\n", r.ctrl.Model())
	return r.report(ctx, r.ctrl.Generate(ctx))
}

// RefineCommand edits the current version with an instruction.
type RefineCommand struct{}

func (c *RefineCommand) Name() string      { return "refine" }
func (c *RefineCommand) Aliases() []string { return []string{"edit", "e"} }
func (c *RefineCommand) Description() string {
	return "Refine the current image (uses the attachment, if any)"
}
func (c *RefineCommand) Usage() string { return "refine <instruction>" }

func (c *RefineCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	if !r.ctrl.View().HasCurrent {
		return ErrNoCurrentImage
	}

	r.ctrl.SetInstruction(strings.Join(args, " "))
	fmt.Fprintf(r.out, "Refining with %s...\n", r.ctrl.Model())
	return r.report(ctx, r.ctrl.Refine(ctx))
}

// report prints the outcome of a submit.
func (r *REPL) report(ctx context.Context, err error) error {
	if err != nil {
		return err
	}

	v := r.ctrl.View()
	fmt.Fprintf(r.out, "Version %d/%d: %s (%s)\n",
		v.Position.Index, v.Position.Total, truncate(v.Current.Label, 50), describeImage(v.Current.Image))
	r.showImage(v.Current.Image)

	if caps, ok := r.registry.Get(v.Model); ok {
		info := r.calc.Calculate(caps.Provider, v.Model, 1)
		if r.recorder != nil {
			if sum, err := r.recorder.Cost(ctx); err == nil {
				fmt.Fprintf(r.out, "Cost: $%.4f (run total $%.4f)\n", info.Total, sum.TotalCost)
				return nil
			}
		}
		fmt.Fprintf(r.out, "Cost: $%.4f\n", info.Total)
	}
	return nil
}

func (r *REPL) showImage(img models.EncodedImage) {
	if !r.displayer.Enabled() {
		return
	}
	if err := r.displayer.Display(img); err != nil && !errors.Is(err, display.ErrUnsupportedFormat) {
		fmt.Fprintf(r.err, "Warning: failed to display: %v\n", err)
	}
}

// NavigateCommand moves the history cursor.
type NavigateCommand struct {
	name    string
	aliases []string
	forward bool
}

func (c *NavigateCommand) Name() string      { return c.name }
func (c *NavigateCommand) Aliases() []string { return c.aliases }
func (c *NavigateCommand) Usage() string     { return c.name }

func (c *NavigateCommand) Description() string {
	if c.forward {
		return "Move to the next version"
	}
	return "Move to the previous version"
}

func (c *NavigateCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	if r.ctrl.Busy() {
		return ErrNavigateBusy
	}

	var moved bool
	if c.forward {
		moved = r.ctrl.MoveForward()
	} else {
		moved = r.ctrl.MoveBack()
	}

	v := r.ctrl.View()
	if !v.HasCurrent {
		return ErrNoCurrentImage
	}
	if !moved {
		fmt.Fprintf(r.out, "Already at version %d/%d\n", v.Position.Index, v.Position.Total)
		return nil
	}

	fmt.Fprintf(r.out, "Version %d/%d: %s\n", v.Position.Index, v.Position.Total, truncate(v.Current.Label, 50))
	r.showImage(v.Current.Image)
	return nil
}

// ShowCommand displays the current version.
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"display", "view"} }
func (c *ShowCommand) Description() string { return "Display the current image" }
func (c *ShowCommand) Usage() string       { return "show" }

func (c *ShowCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	v := r.ctrl.View()
	if !v.HasCurrent {
		return ErrNoCurrentImage
	}

	fmt.Fprintf(r.out, "Version %d/%d: %s (%s)\n",
		v.Position.Index, v.Position.Total, truncate(v.Current.Label, 50), describeImage(v.Current.Image))
	if !r.displayer.Enabled() {
		fmt.Fprintln(r.out, "Inline images are not supported by this terminal; use 'save'.")
		return nil
	}
	return r.displayer.Display(v.Current.Image)
}

// SaveCommand writes the current version to disk.
type SaveCommand struct{}

func (c *SaveCommand) Name() string        { return "save" }
func (c *SaveCommand) Aliases() []string   { return []string{"s", "download"} }
func (c *SaveCommand) Description() string { return "Save the current image to a file" }
func (c *SaveCommand) Usage() string       { return "save [filename]" }

func (c *SaveCommand) Execute(_ context.Context, r *REPL, args []string) error {
	v := r.ctrl.View()
	if !v.HasCurrent {
		return ErrNoCurrentImage
	}

	var destPath string
	if len(args) > 0 {
		destPath = strings.Join(args, " ")
		if err := security.ValidateSavePath(destPath); err != nil {
			return fmt.Errorf("invalid save path: %w", err)
		}
	} else {
		destPath = filepath.Join(r.outputDir, image.DownloadFilename(v.Position.Index, v.Current.Image))
	}

	if err := r.saver.Save(v.Current.Image, destPath); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}

	fmt.Fprintf(r.out, "Saved: %s (%s)\n", destPath, humanize.Bytes(uint64(v.Current.Image.Len())))
	return nil
}

// HistoryCommand lists every version.
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h", "hist"} }
func (c *HistoryCommand) Description() string { return "Show version history" }
func (c *HistoryCommand) Usage() string       { return "history" }

func (c *HistoryCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	v := r.ctrl.View()
	entries := r.ctrl.History()

	if len(entries) == 0 {
		fmt.Fprintln(r.out, "No history yet")
		return nil
	}

	for i, e := range entries {
		marker := "  "
		if i+1 == v.Position.Index {
			marker = "> "
		}
		fmt.Fprintf(r.out, "%s[%d] %-52s %s\n", marker, i+1, truncate(e.Label, 50), humanize.Bytes(uint64(e.Image.Len())))
	}

	return nil
}

// StatusCommand summarizes inputs and controller state.
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Aliases() []string   { return []string{"st", "inputs"} }
func (c *StatusCommand) Description() string { return "Show inputs, current version and last error" }
func (c *StatusCommand) Usage() string       { return "status" }

func (c *StatusCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	v := r.ctrl.View()
	in := v.Inputs

	fmt.Fprintf(r.out, "Model:      %s\n", v.Model)
	fmt.Fprintf(r.out, "Reference:  %s\n", describeSlot(in.Reference))
	fmt.Fprintf(r.out, "Product:    %s\n", describeSlot(in.Product))
	fmt.Fprintf(r.out, "Title:      %s\n", orUnset(in.Title))
	fmt.Fprintf(r.out, "Price:      %s\n", orUnset(in.Price))
	fmt.Fprintf(r.out, "Old price:  %s\n", orUnset(in.OldPrice))
	fmt.Fprintf(r.out, "Attachment: %s\n", describeSlot(in.Auxiliary))

	if v.HasCurrent {
		fmt.Fprintf(r.out, "Version:    %d/%d (%s)\n", v.Position.Index, v.Position.Total, truncate(v.Current.Label, 40))
	} else {
		fmt.Fprintln(r.out, "Version:    none")
	}
	if v.Busy {
		fmt.Fprintln(r.out, "State:      generating...")
	}
	if msg := v.ErrorMessage(); msg != "" {
		fmt.Fprintf(r.out, "Last error: %s\n", msg)
	}
	return nil
}

// ModelCommand gets or sets the generation model.
type ModelCommand struct{}

func (c *ModelCommand) Name() string        { return "model" }
func (c *ModelCommand) Aliases() []string   { return []string{"m"} }
func (c *ModelCommand) Description() string { return "Get or set the current model" }
func (c *ModelCommand) Usage() string       { return "model [name]" }

func (c *ModelCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "Current model: %s\n", r.ctrl.Model())
		fmt.Fprintln(r.out, "\nAvailable models:")
		for _, name := range r.registry.List() {
			if !r.available[name] {
				continue
			}
			caps, _ := r.registry.Get(name)
			aux := ""
			if caps.SupportsAuxiliaryImage {
				aux = " [attachments]"
			}
			fmt.Fprintf(r.out, "  - %s (%s)%s\n", name, caps.Provider, aux)
		}
		return nil
	}

	modelName := args[0]
	if _, ok := r.registry.Get(modelName); !ok {
		return fmt.Errorf("unknown model: %s", modelName)
	}
	if !r.available[modelName] {
		return fmt.Errorf("model %s has no configured provider", modelName)
	}

	r.ctrl.SetModel(modelName)
	fmt.Fprintf(r.out, "Model set to: %s\n", modelName)
	return nil
}

// CostCommand reports spend from the ledger.
type CostCommand struct{}

func (c *CostCommand) Name() string      { return "cost" }
func (c *CostCommand) Aliases() []string { return []string{"$"} }
func (c *CostCommand) Description() string {
	return "View cost summary (today, week, month, total, provider, run, recent)"
}
func (c *CostCommand) Usage() string {
	return "cost <today|week|month|total|provider|run|recent>"
}

func (c *CostCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if r.ledger == nil {
		return ErrNoLedger
	}

	sub := "run"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}

	switch sub {
	case "today":
		return c.showDays(ctx, r, 1, "Today's cost", "No costs recorded today.")
	case "week":
		return c.showDays(ctx, r, 7, "Last 7 days cost", "No costs recorded in the last 7 days.")
	case "month":
		return c.showDays(ctx, r, 30, "Last 30 days cost", "No costs recorded in the last 30 days.")
	case "total":
		summary, err := r.ledger.GetTotalCost(ctx)
		if err != nil {
			return err
		}
		printSummary(r, "Total cost", "No costs recorded yet.", summary)
		return nil
	case "provider":
		return c.showByProvider(ctx, r)
	case "run", "session":
		if r.recorder == nil {
			fmt.Fprintln(r.out, "No active run.")
			return nil
		}
		summary, err := r.recorder.Cost(ctx)
		if err != nil {
			return err
		}
		printSummary(r, "Run cost", "No costs in current run.", summary)
		return nil
	case "recent":
		return c.showRecent(ctx, r)
	default:
		return fmt.Errorf("unknown cost command: %s\nUsage: %s", sub, c.Usage())
	}
}

func (c *CostCommand) showDays(ctx context.Context, r *REPL, days int, label, empty string) error {
	now := time.Now()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)

	summary, err := r.ledger.GetCostByDateRange(ctx, start, end)
	if err != nil {
		return err
	}
	printSummary(r, label, empty, summary)
	return nil
}

func printSummary(r *REPL, label, empty string, s *ledger.CostSummary) {
	if s.AttemptCount == 0 {
		fmt.Fprintln(r.out, empty)
		return
	}
	fmt.Fprintf(r.out, "%s: $%.4f (%d image(s), %d attempt(s))\n", label, s.TotalCost, s.ImageCount, s.AttemptCount)
}

func (c *CostCommand) showByProvider(ctx context.Context, r *REPL) error {
	summaries, err := r.ledger.GetCostByProvider(ctx)
	if err != nil {
		return err
	}

	if len(summaries) == 0 {
		fmt.Fprintln(r.out, "No costs recorded yet.")
		return nil
	}

	fmt.Fprintf(r.out, "%-12s  %-8s  %s\n", "Provider", "Images", "Cost")
	fmt.Fprintln(r.out, strings.Repeat("-", 35))

	var totalCost float64
	var totalImages int
	for _, ps := range summaries {
		fmt.Fprintf(r.out, "%-12s  %-8d  $%.4f\n", ps.Provider, ps.ImageCount, ps.TotalCost)
		totalCost += ps.TotalCost
		totalImages += ps.ImageCount
	}

	fmt.Fprintln(r.out, strings.Repeat("-", 35))
	fmt.Fprintf(r.out, "%-12s  %-8d  $%.4f\n", "Total", totalImages, totalCost)

	return nil
}

func (c *CostCommand) showRecent(ctx context.Context, r *REPL) error {
	attempts, err := r.ledger.RecentAttempts(ctx, 10)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(r.out, "No attempts recorded yet.")
		return nil
	}

	for _, a := range attempts {
		detail := fmt.Sprintf("$%.4f", a.Cost)
		if a.Status != ledger.StatusOK {
			detail = "failed: " + truncate(a.Error, 40)
		}
		fmt.Fprintf(r.out, "%-14s %-8s %-30s %s\n",
			humanize.Time(a.Timestamp), a.Mode, truncate(a.Label, 30), detail)
	}
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range allCommands() {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-24s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "  %-24sUsage: %s\n", "", cmd.Usage())
	}

	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

func slotImage(in session.Inputs, slot session.Slot) *models.EncodedImage {
	switch slot {
	case session.SlotReference:
		return in.Reference
	case session.SlotProduct:
		return in.Product
	default:
		return in.Auxiliary
	}
}

func slotTitle(slot session.Slot) string {
	switch slot {
	case session.SlotReference:
		return "Reference"
	case session.SlotProduct:
		return "Product"
	default:
		return "Attachment"
	}
}

func describeImage(img models.EncodedImage) string {
	return fmt.Sprintf("%s, %s", img.MediaType(), humanize.Bytes(uint64(img.Len())))
}

func describeSlot(img *models.EncodedImage) string {
	if img == nil {
		return "not set"
	}
	return describeImage(*img)
}

func orUnset(s string) string {
	if strings.TrimSpace(s) == "" {
		return "not set"
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
