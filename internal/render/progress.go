package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/oukeidos/restora/internal/lifecycle"
)

const barWidth = 30

// ProgressLine draws job progress. On a terminal it redraws one line with a
// bar; otherwise it prints a plain line every ten percent.
type ProgressLine struct {
	w       io.Writer
	tty     bool
	last    int
	drawn   bool
	printed bool
}

func NewProgressLine(w io.Writer, tty bool) *ProgressLine {
	return &ProgressLine{w: w, tty: tty, last: -1}
}

// Update renders s if it changes what is shown.
func (p *ProgressLine) Update(s lifecycle.State) {
	switch s.Phase {
	case lifecycle.Submitting:
		if !p.printed {
			fmt.Fprintln(p.w, "Uploading...")
			p.printed = true
		}
		return
	case lifecycle.Processing, lifecycle.Results:
	default:
		return
	}
	if s.Job == nil || s.Job.Progress == p.last {
		return
	}
	pct := s.Job.Progress
	if p.tty {
		filled := pct * barWidth / 100
		bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
		fmt.Fprintf(p.w, "\r[%s] %3d%% %-10s", bar, pct, s.Job.Status)
		p.drawn = true
	} else if p.last < 0 || pct/10 != p.last/10 || pct == 100 {
		fmt.Fprintf(p.w, "Job %s: %d%% (%s)\n", s.Job.ID, pct, s.Job.Status)
	}
	p.last = pct
}

// Done ends a redrawn line.
func (p *ProgressLine) Done() {
	if p.tty && p.drawn {
		fmt.Fprintln(p.w)
		p.drawn = false
	}
}
