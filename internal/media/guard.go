package media

import (
	"fmt"

	"github.com/oukeidos/restora/internal/apperrors"
)

// Mode controls how the two upload slots interact.
type Mode int

const (
	// Combined keeps a single active upload across both slots.
	Combined Mode = iota
	// Independent lets each slot hold a selection of its own.
	Independent
)

// Guard holds one selection slot per category. It is not safe for
// concurrent use; the lifecycle machine serializes access.
type Guard struct {
	mode  Mode
	slots map[Category]Selection
	err   error
}

func NewGuard(mode Mode) *Guard {
	return &Guard{mode: mode, slots: make(map[Category]Selection, 2)}
}

// Select validates f against expected and stores it in that slot.
// A rejected file leaves every slot untouched.
func (g *Guard) Select(f File, expected Category) (Selection, error) {
	if !expected.Valid() {
		return Selection{}, fmt.Errorf("unknown media category %q", expected)
	}
	if !expected.Accepts(f.ContentType) {
		g.err = InvalidMediaType(expected, f)
		return Selection{}, g.err
	}
	if f.Size <= 0 || f.Open == nil {
		g.err = apperrors.New(apperrors.KindInvalidMediaType,
			fmt.Sprintf("The selected %s file is empty", expected),
			fmt.Errorf("file %q has no content", f.Name))
		return Selection{}, g.err
	}

	sel := Selection{
		Category:    expected,
		DisplayName: f.Name,
		SizeBytes:   f.Size,
		ContentType: f.ContentType,
		open:        f.Open,
	}
	g.slots[expected] = sel
	g.err = nil
	if g.mode == Combined {
		delete(g.slots, expected.Other())
	}
	return sel, nil
}

// Remove clears a slot. It never fails.
func (g *Guard) Remove(c Category) {
	delete(g.slots, c)
}

// Reset clears both slots and the stored error.
func (g *Guard) Reset() {
	clear(g.slots)
	g.err = nil
}

// Selection returns the file held in slot c.
func (g *Guard) Selection(c Category) (Selection, bool) {
	sel, ok := g.slots[c]
	return sel, ok
}

// Active returns the only pending selection. It fails when both slots are
// filled (independent mode) or none is.
func (g *Guard) Active() (Selection, error) {
	switch len(g.slots) {
	case 0:
		return Selection{}, fmt.Errorf("no file selected")
	case 1:
		for _, sel := range g.slots {
			return sel, nil
		}
	}
	return Selection{}, fmt.Errorf("both an image and a video are selected; choose one")
}

// Err is the message of the last rejected selection, cleared on acceptance.
func (g *Guard) Err() error { return g.err }
