// Package history keeps the ordered list of generated image versions and a
// cursor into it.
//
// Appending from the middle of the list discards every entry after the
// cursor, the same way an editor drops its redo stack after a new edit.
// A History is not safe for concurrent use; its owner serializes access.
package history

import "github.com/manash/stylist/pkg/models"

// LabelInitialGeneration marks entries produced by a composite generation.
const LabelInitialGeneration = "Initial Generation"

// Entry is one generated version. Label is LabelInitialGeneration or the
// refinement instruction that produced the image.
type Entry struct {
	Image models.EncodedImage
	Label string
}

func (e Entry) IsInitial() bool {
	return e.Label == LabelInitialGeneration
}

// Position is the 1-based display position; {0, 0} when empty.
type Position struct {
	Index int
	Total int
}

type History struct {
	entries []Entry
	cursor  int
}

func New() *History {
	return &History{cursor: -1}
}

// Append drops every entry after the cursor, appends e and moves the cursor
// to it. It returns the new cursor.
func (h *History) Append(e Entry) int {
	tail := h.cursor + 1
	clear(h.entries[tail:])
	h.entries = append(h.entries[:tail], e)
	h.cursor = len(h.entries) - 1
	return h.cursor
}

func (h *History) Current() (Entry, bool) {
	if h.cursor < 0 {
		return Entry{}, false
	}
	return h.entries[h.cursor], true
}

func (h *History) MoveBack() bool {
	if !h.CanMoveBack() {
		return false
	}
	h.cursor--
	return true
}

func (h *History) MoveForward() bool {
	if !h.CanMoveForward() {
		return false
	}
	h.cursor++
	return true
}

func (h *History) CanMoveBack() bool {
	return h.cursor > 0
}

func (h *History) CanMoveForward() bool {
	return h.cursor < len(h.entries)-1
}

func (h *History) Position() Position {
	if h.cursor < 0 {
		return Position{}
	}
	return Position{Index: h.cursor + 1, Total: len(h.entries)}
}

func (h *History) Len() int {
	return len(h.entries)
}

// Cursor returns the current index, -1 when empty.
func (h *History) Cursor() int {
	return h.cursor
}

// Entries returns a copy of the stored entries in order.
func (h *History) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}
