package session

import (
	"strings"
	"time"

	"github.com/manash/stylist/internal/history"
	"github.com/manash/stylist/pkg/models"
)

// Mode is the request path a submit takes.
type Mode int

const (
	ModeInitial Mode = iota
	ModeRefine
)

func (m Mode) String() string {
	if m == ModeRefine {
		return "refine"
	}
	return "initial"
}

// Slot names an image input.
type Slot string

const (
	SlotReference Slot = "reference"
	SlotProduct   Slot = "product"
	SlotAuxiliary Slot = "auxiliary"
)

func (s Slot) IsValid() bool {
	switch s {
	case SlotReference, SlotProduct, SlotAuxiliary:
		return true
	}
	return false
}

// Inputs holds what the user has supplied so far. Absent images are nil.
type Inputs struct {
	Reference   *models.EncodedImage
	Product     *models.EncodedImage
	Auxiliary   *models.EncodedImage
	Title       string
	Price       string
	OldPrice    string
	Instruction string
}

// Mode is ModeRefine when a non-blank instruction is present.
func (in Inputs) Mode() Mode {
	if strings.TrimSpace(in.Instruction) != "" {
		return ModeRefine
	}
	return ModeInitial
}

func (in Inputs) clone() Inputs {
	out := in
	out.Reference = cloneImage(in.Reference)
	out.Product = cloneImage(in.Product)
	out.Auxiliary = cloneImage(in.Auxiliary)
	return out
}

func cloneImage(img *models.EncodedImage) *models.EncodedImage {
	if img == nil {
		return nil
	}
	c := *img
	return &c
}

// missing lists the absent initial-generation fields in display order.
func (in Inputs) missing() []Field {
	var fields []Field
	if in.Reference == nil || in.Reference.IsZero() {
		fields = append(fields, FieldReference)
	}
	if in.Product == nil || in.Product.IsZero() {
		fields = append(fields, FieldProduct)
	}
	if strings.TrimSpace(in.Title) == "" {
		fields = append(fields, FieldTitle)
	}
	if strings.TrimSpace(in.Price) == "" {
		fields = append(fields, FieldPrice)
	}
	return fields
}

// View is a point-in-time snapshot for rendering.
type View struct {
	seq uint64

	Current        history.Entry
	HasCurrent     bool
	Position       history.Position
	Busy           bool
	Err            error
	Inputs         Inputs
	Mode           Mode
	Model          string
	CanMoveBack    bool
	CanMoveForward bool
}

// ErrorMessage is the error slot text, or "" when the slot is empty.
func (v View) ErrorMessage() string {
	if v.Err == nil {
		return ""
	}
	return v.Err.Error()
}

// Attempt describes one dispatched service call.
type Attempt struct {
	Mode     Mode
	Label    string
	Model    string
	Image    models.EncodedImage
	Err      error
	Started  time.Time
	Duration time.Duration
}

func (a Attempt) Succeeded() bool {
	return a.Err == nil
}
