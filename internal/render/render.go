// Package render prints job results and progress for the terminal and saves
// decoded images to disk.
package render

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oukeidos/restora/internal/files"
	"github.com/oukeidos/restora/internal/result"
	"github.com/rivo/uniseg"
)

// MaxNameWidth bounds file names in summaries, counted in graphemes.
const MaxNameWidth = 40

// TruncateName shortens name to at most max graphemes, keeping the
// extension visible when possible.
func TruncateName(name string, max int) string {
	if max <= 0 || uniseg.GraphemeClusterCount(name) <= max {
		return name
	}
	ext := filepath.Ext(name)
	extLen := uniseg.GraphemeClusterCount(ext)
	keep := max - 1
	if extLen > 0 && extLen < max/2 {
		keep -= extLen
	} else {
		ext = ""
	}

	var b strings.Builder
	g := uniseg.NewGraphemes(name)
	for i := 0; i < keep && g.Next(); i++ {
		b.WriteString(g.Str())
	}
	b.WriteString("…")
	b.WriteString(ext)
	return b.String()
}

func number(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func signed(v float64) string {
	if v >= 0 {
		return "+" + number(v)
	}
	return number(v)
}

// Summary writes the text view of a finished job.
func Summary(w io.Writer, jobID, name string, p result.Payload) error {
	ew := &errWriter{w: w}
	ew.printf("Job %s", jobID)
	if name != "" {
		ew.printf(" (%s)", TruncateName(name, MaxNameWidth))
	}
	ew.printf("\n")

	switch {
	case p.Image != nil:
		writeImage(ew, p.Image)
	case p.Video != nil:
		writeVideo(ew, p.Video)
	default:
		ew.printf("No result.\n")
	}
	return ew.err
}

func writeImage(ew *errWriter, img *result.Image) {
	ew.printf("\nImage comparison: original vs enhanced")
	if img.SideBySide != "" {
		ew.printf(" (side-by-side available)")
	}
	ew.printf("\n")
	if img.Blur != nil {
		ew.printf("  Blur level:        %s\n", img.Blur.Level.Badge())
		if img.Blur.SharpnessScore != nil {
			ew.printf("  Laplacian variance: %s\n", number(*img.Blur.SharpnessScore))
		}
		if img.Blur.EdgeDensity != nil {
			ew.printf("  Edge density:      %s\n", number(*img.Blur.EdgeDensity))
		}
	}
	if img.ConfidenceLevel != nil {
		ew.printf("  Confidence level:  %s", number(*img.ConfidenceLevel))
		if img.Text != nil {
			ew.printf(" (%s)", signed(img.Text.Improvement))
		}
		ew.printf("\n")
	}
	if t := img.Text; t != nil {
		ew.printf("\nText extraction\n")
		ew.printf("  Blur confidence:     %s", number(t.BeforeConfidence))
		if t.BeforeTextCount != nil {
			ew.printf(" (%d regions)", *t.BeforeTextCount)
		}
		ew.printf("\n  Enhanced confidence: %s", number(t.AfterConfidence))
		if t.AfterTextCount != nil {
			ew.printf(" (%d regions)", *t.AfterTextCount)
		}
		ew.printf("\n  Improvement:         %s\n", signed(t.Improvement))
	}
}

func writeVideo(ew *errWriter, v *result.Video) {
	ew.printf("\nVideo summary\n")
	ew.printf("  Total frames:  %d\n", v.TotalFrames)
	ew.printf("  Sample frames: %d\n", v.SampledFrames)
	if v.OutputVideo != "" {
		ew.printf("  Output video:  %s\n", v.OutputVideo)
	}
	for _, f := range v.Frames {
		ew.printf("\nFrame #%d", f.Number)
		if f.Blur != nil {
			ew.printf("  [%s]", f.Blur.Level.Badge())
		}
		if f.ConfidenceLevel != nil {
			ew.printf("  confidence %s", number(*f.ConfidenceLevel))
		}
		ew.printf("\n")
		if t := f.Text; t != nil {
			ew.printf("  Before: %s  After: %s  Delta: %s\n",
				number(t.BeforeConfidence), number(t.AfterConfidence), signed(t.Improvement))
		}
	}
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// image is one decodable picture of a payload and its file name.
type image struct {
	name string
	b64  string
}

func images(p result.Payload) []image {
	var out []image
	add := func(name, b64 string) {
		if b64 != "" {
			out = append(out, image{name: name, b64: b64})
		}
	}
	if img := p.Image; img != nil {
		add("original.png", img.Original)
		add("deblurred.png", img.Deblurred)
		add("enhanced.png", img.Enhanced)
		add("comparison.png", img.SideBySide)
	}
	if v := p.Video; v != nil {
		for _, f := range v.Frames {
			prefix := "frame_" + sanitize(f.ID)
			add(prefix+"_before.png", f.Before)
			add(prefix+"_enhanced.png", f.Enhanced)
			add(prefix+"_comparison.png", f.SideBySide)
		}
	}
	return out
}

// SaveImages decodes every image in p into dir, never replacing existing
// files, and returns the paths written.
func SaveImages(dir string, p result.Payload) ([]string, error) {
	var written []string
	for _, img := range images(p) {
		data, err := result.DecodeImage(img.b64)
		if err != nil {
			return written, fmt.Errorf("%s: %w", img.name, err)
		}
		path, err := files.WriteNew(dir, img.name, data, 0o644)
		if err != nil {
			return written, fmt.Errorf("failed to save %s: %w", img.name, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
