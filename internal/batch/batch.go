// Package batch composites many products into one reference style. Every
// item gets its own session controller; items run on a bounded worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/manash/stylist/internal/codec"
	"github.com/manash/stylist/internal/cost"
	"github.com/manash/stylist/internal/image"
	"github.com/manash/stylist/internal/log"
	"github.com/manash/stylist/internal/security"
	"github.com/manash/stylist/internal/session"
	"github.com/manash/stylist/pkg/models"
)

// ErrSkipped marks items never started because an earlier item failed with
// StopOnError set, or the context was canceled.
var ErrSkipped = errors.New("skipped")

type Result struct {
	Index    int
	Title    string
	Path     string
	Versions int
	Cost     float64
	Error    error
	Duration time.Duration
}

type Options struct {
	Reference   models.EncodedImage
	OutputDir   string
	Model       string
	Parallel    int
	StopOnError bool
	DelayMs     int
}

// RecorderFunc opens the audit recorder for one item. It may return nil.
type RecorderFunc func(ctx context.Context, item Item) (session.Recorder, error)

type Processor struct {
	gen         session.Generator
	saver       *image.Saver
	registry    *models.ModelRegistry
	calc        *cost.Calculator
	recorderFor RecorderFunc
	out         io.Writer
	err         io.Writer
	outMu       sync.Mutex
}

type ProcessorOption func(*Processor)

func WithRecorder(fn RecorderFunc) ProcessorOption {
	return func(p *Processor) { p.recorderFor = fn }
}

func WithCalculator(calc *cost.Calculator) ProcessorOption {
	return func(p *Processor) { p.calc = calc }
}

func NewProcessor(gen session.Generator, saver *image.Saver, registry *models.ModelRegistry, out, errOut io.Writer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		gen:      gen,
		saver:    saver,
		registry: registry,
		calc:     cost.NewCalculator(nil),
		out:      out,
		err:      errOut,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadReference reads the shared style reference once for every item.
func LoadReference(ctx context.Context, path string) (models.EncodedImage, error) {
	img, err := codec.Encode(ctx, path)
	if err != nil {
		return models.EncodedImage{}, fmt.Errorf("reference image: %w", err)
	}
	return img, nil
}

func (p *Processor) printf(format string, args ...any) {
	p.outMu.Lock()
	fmt.Fprintf(p.out, format, args...)
	p.outMu.Unlock()
}

func (p *Processor) errorf(format string, args ...any) {
	p.outMu.Lock()
	fmt.Fprintf(p.err, format, args...)
	p.outMu.Unlock()
}

func (p *Processor) Process(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	if opts.Reference.IsZero() {
		return nil, session.ErrMissingInputs
	}
	if opts.Parallel <= 1 {
		return p.processSequential(ctx, items, opts)
	}
	return p.processParallel(ctx, items, opts)
}

func skipped(item Item) Result {
	return Result{Index: item.Index, Title: item.Title, Error: ErrSkipped}
}

func (p *Processor) processSequential(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, len(items))
	for i, item := range items {
		results[i] = skipped(item)
	}
	total := len(items)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result := p.processItem(ctx, item, opts, i+1, total)
		results[i] = result

		if result.Error != nil && opts.StopOnError {
			return results, fmt.Errorf("stopped at item %d: %w", item.Index, result.Error)
		}

		if opts.DelayMs > 0 && i < len(items)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(time.Duration(opts.DelayMs) * time.Millisecond):
			}
		}
	}

	return results, nil
}

func (p *Processor) processParallel(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, len(items))
	for i, item := range items {
		results[i] = skipped(item)
	}
	total := len(items)

	pool, err := ants.NewPool(min(opts.Parallel, len(items)))
	if err != nil {
		return results, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		started  int
	)

	for i, item := range items {
		if runCtx.Err() != nil {
			break
		}

		wg.Add(1)
		task := func() {
			defer wg.Done()
			if runCtx.Err() != nil {
				return
			}

			mu.Lock()
			started++
			current := started
			mu.Unlock()

			result := p.processItem(runCtx, item, opts, current, total)

			mu.Lock()
			results[i] = result
			if result.Error != nil && opts.StopOnError && firstErr == nil {
				firstErr = fmt.Errorf("stopped at item %d: %w", item.Index, result.Error)
				cancel()
			}
			mu.Unlock()
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			mu.Lock()
			results[i].Error = fmt.Errorf("failed to submit item: %w", err)
			mu.Unlock()
		}
	}

	wg.Wait()

	if firstErr != nil {
		return results, firstErr
	}
	return results, ctx.Err()
}

func (p *Processor) processItem(ctx context.Context, item Item, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{Index: item.Index, Title: item.Title}

	p.printf("[%d/%d] Styling: %q...\n", current, total, truncate(item.Title, 50))

	fail := func(err error) Result {
		result.Error = err
		result.Duration = time.Since(start)
		p.errorf("       Error: %v\n", err)
		log.Warnf("batch: item %d failed: %v", item.Index, err)
		return result
	}

	ctrlOpts := []session.Option{session.WithModel(opts.Model)}
	if p.recorderFor != nil {
		rec, err := p.recorderFor(ctx, item)
		if err != nil {
			log.Warnf("batch: item %d: no ledger run: %v", item.Index, err)
		} else if rec != nil {
			ctrlOpts = append(ctrlOpts, session.WithRecorder(rec))
		}
	}
	ctrl := session.NewController(p.gen, ctrlOpts...)

	ctrl.SetReference(opts.Reference)
	if err := ctrl.Attach(ctx, session.SlotProduct, item.ProductPath); err != nil {
		return fail(fmt.Errorf("product image: %w", err))
	}
	ctrl.SetTitle(item.Title)
	ctrl.SetPrice(item.Price)
	ctrl.SetOldPrice(item.OldPrice)

	if err := ctrl.Generate(ctx); err != nil {
		return fail(err)
	}
	for _, step := range item.Refine {
		ctrl.SetInstruction(step)
		if err := ctrl.Refine(ctx); err != nil {
			result.Versions = len(ctrl.History())
			result.Cost = p.itemCost(ctrl.Model(), result.Versions)
			return fail(fmt.Errorf("refine %q: %w", truncate(step, 30), err))
		}
	}

	v := ctrl.View()
	result.Versions = v.Position.Total
	result.Cost = p.itemCost(ctrl.Model(), result.Versions)

	path, err := p.outputPath(opts.OutputDir, item, v.Current.Image)
	if err != nil {
		return fail(err)
	}
	if err := p.saver.Save(v.Current.Image, path); err != nil {
		return fail(fmt.Errorf("save failed: %w", err))
	}

	result.Path = path
	result.Duration = time.Since(start)
	p.printf("       Saved: %s (%d version(s), $%.4f)\n", result.Path, result.Versions, result.Cost)

	return result
}

func (p *Processor) itemCost(model string, images int) float64 {
	provider := models.ProviderGemini
	if caps, ok := p.registry.Get(model); ok {
		provider = caps.Provider
	}
	return p.calc.Calculate(provider, model, images).Total
}

func (p *Processor) outputPath(dir string, item Item, img models.EncodedImage) (string, error) {
	path, err := security.SafeJoin(dir, generateFilename(item.Index, item.Title, img))
	if err != nil {
		return "", fmt.Errorf("invalid output name: %w", err)
	}
	return path, nil
}

func generateFilename(index int, title string, img models.EncodedImage) string {
	return fmt.Sprintf("%03d-%s.%s", index, sanitizeTitle(title), img.Extension())
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)

func sanitizeTitle(title string) string {
	sanitized := unsafeChars.ReplaceAllString(title, "")
	sanitized = strings.ToLower(sanitized)
	sanitized = strings.Join(strings.Fields(sanitized), "-")
	sanitized = strings.TrimLeft(sanitized, "-")

	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}
	sanitized = strings.TrimSuffix(sanitized, "-")

	if sanitized == "" {
		sanitized = "product"
	}

	return security.SanitizeFilename(sanitized)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func (p *Processor) PrintSummary(results []Result) {
	var successful, failed, skippedCount int
	var totalCost float64
	var errs []Result

	for _, r := range results {
		switch {
		case errors.Is(r.Error, ErrSkipped):
			skippedCount++
		case r.Error != nil:
			failed++
			totalCost += r.Cost
			errs = append(errs, r)
		default:
			successful++
			totalCost += r.Cost
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Summary:")
	fmt.Fprintf(p.out, "  Successful: %d/%d products\n", successful, len(results))
	if failed > 0 {
		fmt.Fprintf(p.out, "  Failed: %d (see errors below)\n", failed)
	}
	if skippedCount > 0 {
		fmt.Fprintf(p.out, "  Skipped: %d\n", skippedCount)
	}
	fmt.Fprintf(p.out, "  Total cost: $%.4f\n", totalCost)

	if len(errs) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Errors:")
		for _, e := range errs {
			fmt.Fprintf(p.out, "  [%d] %q: %v\n", e.Index, truncate(e.Title, 40), e.Error)
		}
	}
}
