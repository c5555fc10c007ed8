// Package session owns the interactive state of one styling session: the
// user's inputs, the generation history, the busy flag and the error slot.
package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/manash/stylist/internal/codec"
	"github.com/manash/stylist/internal/history"
	"github.com/manash/stylist/internal/log"
	"github.com/manash/stylist/pkg/models"
)

// Generator is the remote generation service.
type Generator interface {
	GenerateComposite(ctx context.Context, req *models.CompositeRequest) (models.EncodedImage, error)
	Refine(ctx context.Context, req *models.RefineRequest) (models.EncodedImage, error)
}

// Recorder receives every dispatched attempt once it settles.
type Recorder interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

type Option func(*Controller)

func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

func WithModel(model string) Option {
	return func(c *Controller) {
		if model != "" {
			c.model = model
		}
	}
}

type observer struct {
	id int
	fn func(View)
}

// Controller serializes submits (one in flight at a time) and reconciles
// their results into the history. Navigation and reads stay available while
// a request is in flight.
type Controller struct {
	gen      Generator
	recorder Recorder

	mu        sync.Mutex
	hist      *history.History
	inputs    Inputs
	busy      bool
	err       error
	model     string
	observers []observer
	nextObs   int
	seq       uint64

	// notifyMu guards delivery state. At most one goroutine delivers at a
	// time, so observers see views in the order they were taken.
	notifyMu   sync.Mutex
	pending    *View
	delivered  uint64
	delivering bool
}

func NewController(gen Generator, opts ...Option) *Controller {
	c := &Controller{
		gen:   gen,
		hist:  history.New(),
		model: models.DefaultModel(models.ProviderGemini),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// job is a validated request captured under the lock.
type job struct {
	mode      Mode
	label     string
	model     string
	composite *models.CompositeRequest
	refine    *models.RefineRequest
}

// Submit dispatches to Refine when an instruction is present and to
// Generate otherwise.
func (c *Controller) Submit(ctx context.Context) error {
	return c.run(ctx, nil, nil)
}

// SubmitInstruction sets the instruction and submits in one step. When a
// request is already in flight it returns ErrBusy and the instruction is
// left unchanged.
func (c *Controller) SubmitInstruction(ctx context.Context, instruction string) error {
	return c.run(ctx, nil, &instruction)
}

// Generate runs the initial-generation path. The instruction is ignored.
func (c *Controller) Generate(ctx context.Context) error {
	mode := ModeInitial
	return c.run(ctx, &mode, nil)
}

func (c *Controller) Refine(ctx context.Context) error {
	mode := ModeRefine
	return c.run(ctx, &mode, nil)
}

// RefineInstruction is Refine with the instruction set under the same lock
// as the busy check.
func (c *Controller) RefineInstruction(ctx context.Context, instruction string) error {
	mode := ModeRefine
	return c.run(ctx, &mode, &instruction)
}

func (c *Controller) run(ctx context.Context, forced *Mode, instruction *string) error {
	j, err := c.begin(forced, instruction)
	if err != nil {
		return err
	}
	return c.dispatch(ctx, j)
}

// begin checks busy, validates and marks the controller in flight.
func (c *Controller) begin(forced *Mode, instruction *string) (*job, error) {
	c.mu.Lock()

	if c.busy {
		c.mu.Unlock()
		log.Debugf("session: submit rejected, request in flight")
		return nil, ErrBusy
	}
	if instruction != nil {
		c.inputs.Instruction = *instruction
	}

	mode := c.inputs.Mode()
	if forced != nil {
		mode = *forced
	}

	j, verr := c.buildJobLocked(mode)
	if verr != nil {
		f := &Failure{Kind: KindValidation, Err: verr}
		c.err = f
		v := c.viewLocked()
		c.mu.Unlock()
		log.Debugf("session: %s submit invalid: %v", mode, verr)
		c.notify(v)
		return nil, f
	}

	c.busy = true
	v := c.viewLocked()
	c.mu.Unlock()

	log.Infof("session: %s submit accepted (model %s)", mode, j.model)
	c.notify(v)
	return j, nil
}

func (c *Controller) buildJobLocked(mode Mode) (*job, error) {
	in := c.inputs
	switch mode {
	case ModeRefine:
		current, ok := c.hist.Current()
		if !ok {
			return nil, &ValidationError{Err: ErrNoBaseImage}
		}
		req := &models.RefineRequest{
			Model:       c.model,
			Base:        current.Image,
			Instruction: strings.TrimSpace(in.Instruction),
		}
		if in.Auxiliary != nil && !in.Auxiliary.IsZero() {
			aux := *in.Auxiliary
			req.Auxiliary = &aux
		}
		if req.Instruction == "" {
			return nil, &ValidationError{Err: models.ErrEmptyInstruction}
		}
		return &job{mode: mode, label: in.Instruction, model: c.model, refine: req}, nil

	default:
		if missing := in.missing(); len(missing) > 0 {
			return nil, &ValidationError{Missing: missing, Err: ErrMissingInputs}
		}
		req := &models.CompositeRequest{
			Model:     c.model,
			Reference: *in.Reference,
			Product:   *in.Product,
			Title:     strings.TrimSpace(in.Title),
			Price:     strings.TrimSpace(in.Price),
			OldPrice:  strings.TrimSpace(in.OldPrice),
		}
		return &job{mode: ModeInitial, label: history.LabelInitialGeneration, model: c.model, composite: req}, nil
	}
}

// dispatch calls the service outside the lock, then reconciles. Busy is
// cleared on every exit path, panics included.
func (c *Controller) dispatch(ctx context.Context, j *job) (err error) {
	start := time.Now()
	var (
		img     models.EncodedImage
		settled bool
	)

	defer func() {
		c.mu.Lock()
		c.busy = false
		if !settled {
			v := c.viewLocked()
			c.mu.Unlock()
			c.notify(v)
			return
		}
		if err == nil {
			c.hist.Append(history.Entry{Image: img, Label: j.label})
			c.err = nil
			if j.mode == ModeRefine {
				c.inputs.Instruction = ""
				c.inputs.Auxiliary = nil
			}
		} else {
			c.err = err
		}
		pos := c.hist.Position()
		v := c.viewLocked()
		c.mu.Unlock()

		if err == nil {
			log.Infof("session: %s complete, now at %d/%d", j.mode, pos.Index, pos.Total)
		} else {
			log.Warnf("session: %s failed: %v", j.mode, err)
		}
		c.record(ctx, j, img, err, start)
		c.notify(v)
	}()

	img, err = c.call(ctx, j)
	settled = true
	if err == nil && img.IsZero() {
		err = ErrEmptyResult
	}
	if err != nil {
		err = &Failure{Kind: KindGeneration, Err: err}
	}
	return err
}

func (c *Controller) call(ctx context.Context, j *job) (models.EncodedImage, error) {
	if j.mode == ModeRefine {
		return c.gen.Refine(ctx, j.refine)
	}
	return c.gen.GenerateComposite(ctx, j.composite)
}

func (c *Controller) record(ctx context.Context, j *job, img models.EncodedImage, err error, start time.Time) {
	if c.recorder == nil {
		return
	}
	a := Attempt{
		Mode:     j.mode,
		Label:    j.label,
		Model:    j.model,
		Image:    img,
		Err:      err,
		Started:  start,
		Duration: time.Since(start),
	}
	if rerr := c.recorder.RecordAttempt(context.WithoutCancel(ctx), a); rerr != nil {
		log.Warnf("session: failed to record attempt: %v", rerr)
	}
}

// MoveBack steps to the previous entry. It reports whether the cursor moved.
func (c *Controller) MoveBack() bool {
	return c.navigate((*history.History).MoveBack)
}

func (c *Controller) MoveForward() bool {
	return c.navigate((*history.History).MoveForward)
}

func (c *Controller) navigate(step func(*history.History) bool) bool {
	c.mu.Lock()
	moved := step(c.hist)
	v := c.viewLocked()
	c.mu.Unlock()

	if moved {
		c.notify(v)
	}
	return moved
}

func (c *Controller) SetReference(img models.EncodedImage) {
	c.update(func(in *Inputs) { in.Reference = presentImage(img) })
}

func (c *Controller) SetProduct(img models.EncodedImage) {
	c.update(func(in *Inputs) { in.Product = presentImage(img) })
}

func (c *Controller) SetAuxiliary(img models.EncodedImage) {
	c.update(func(in *Inputs) { in.Auxiliary = presentImage(img) })
}

func (c *Controller) ClearAuxiliary() {
	c.update(func(in *Inputs) { in.Auxiliary = nil })
}

func (c *Controller) SetTitle(s string) {
	c.update(func(in *Inputs) { in.Title = s })
}

func (c *Controller) SetPrice(s string) {
	c.update(func(in *Inputs) { in.Price = s })
}

func (c *Controller) SetOldPrice(s string) {
	c.update(func(in *Inputs) { in.OldPrice = s })
}

func (c *Controller) SetInstruction(s string) {
	c.update(func(in *Inputs) { in.Instruction = s })
}

// SetImage stores img in slot.
func (c *Controller) SetImage(slot Slot, img models.EncodedImage) error {
	switch slot {
	case SlotReference:
		c.SetReference(img)
	case SlotProduct:
		c.SetProduct(img)
	case SlotAuxiliary:
		c.SetAuxiliary(img)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	return nil
}

// Attach reads path through the image codec into slot. A read failure is
// placed in the error slot.
func (c *Controller) Attach(ctx context.Context, slot Slot, path string) error {
	if !slot.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	img, err := codec.Encode(ctx, path)
	return c.attach(slot, img, err)
}

// AttachReader is Attach for an upload body. A non-empty mediaType overrides
// detection from name.
func (c *Controller) AttachReader(ctx context.Context, slot Slot, r io.Reader, name, mediaType string) error {
	if !slot.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	img, err := codec.EncodeReader(ctx, r, name)
	if err == nil && mediaType != "" {
		img = models.NewEncodedImage(img.Bytes(), mediaType)
	}
	return c.attach(slot, img, err)
}

func (c *Controller) attach(slot Slot, img models.EncodedImage, err error) error {
	if err != nil {
		f := &Failure{Kind: KindCodec, Err: err}
		c.mu.Lock()
		c.err = f
		v := c.viewLocked()
		c.mu.Unlock()
		c.notify(v)
		return f
	}
	return c.SetImage(slot, img)
}

func presentImage(img models.EncodedImage) *models.EncodedImage {
	if img.IsZero() {
		return nil
	}
	return &img
}

func (c *Controller) update(fn func(*Inputs)) {
	c.mu.Lock()
	fn(&c.inputs)
	v := c.viewLocked()
	c.mu.Unlock()
	c.notify(v)
}

func (c *Controller) SetModel(model string) {
	c.mu.Lock()
	c.model = model
	v := c.viewLocked()
	c.mu.Unlock()
	c.notify(v)
}

func (c *Controller) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	current, ok := c.hist.Current()
	c.seq++
	return View{
		seq:            c.seq,
		Current:        current,
		HasCurrent:     ok,
		Position:       c.hist.Position(),
		Busy:           c.busy,
		Err:            c.err,
		Inputs:         c.inputs.clone(),
		Mode:           c.inputs.Mode(),
		Model:          c.model,
		CanMoveBack:    c.hist.CanMoveBack(),
		CanMoveForward: c.hist.CanMoveForward(),
	}
}

func (c *Controller) Inputs() Inputs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs.clone()
}

func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Err returns the error slot.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) History() []history.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hist.Entries()
}

// Subscribe registers fn to receive a View after every state change. fn is
// called without the controller lock held and may call back into the
// controller. Views arrive in state order; when changes race, an observer
// may skip intermediate views but always receives the latest one. The
// returned func unsubscribes.
func (c *Controller) Subscribe(fn func(View)) (cancel func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers = append(c.observers, observer{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, o := range c.observers {
			if o.id == id {
				c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

func (c *Controller) notify(v View) {
	c.notifyMu.Lock()
	if v.seq <= c.delivered || (c.pending != nil && v.seq <= c.pending.seq) {
		c.notifyMu.Unlock()
		return
	}
	c.pending = &v
	if c.delivering {
		c.notifyMu.Unlock()
		return
	}
	c.delivering = true
	c.notifyMu.Unlock()

	c.drain()
}

// drain delivers the pending view until none is left. Views queued by other
// goroutines (or by observers themselves) while it runs are picked up by the
// same loop.
func (c *Controller) drain() {
	finished := false
	defer func() {
		if !finished {
			c.notifyMu.Lock()
			c.pending = nil
			c.delivering = false
			c.notifyMu.Unlock()
		}
	}()

	for {
		c.notifyMu.Lock()
		next := c.pending
		if next == nil {
			c.delivering = false
			c.notifyMu.Unlock()
			finished = true
			return
		}
		c.pending = nil
		c.delivered = next.seq
		c.notifyMu.Unlock()

		for _, fn := range c.observerFuncs() {
			fn(*next)
		}
	}
}

func (c *Controller) observerFuncs() []func(View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obs := make([]func(View), len(c.observers))
	for i, o := range c.observers {
		obs[i] = o.fn
	}
	return obs
}
