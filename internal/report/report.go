// Package report exports sampled-frame findings of a video result as a
// subtitle track, one cue per frame.
package report

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/asticode/go-astisub"
	"github.com/oukeidos/restora/internal/files"
	"github.com/oukeidos/restora/internal/result"
)

// DefaultFPS is used when the frame rate of the source is unknown.
const DefaultFPS = 30.0

// LastCue is how long the cue of the final sampled frame stays visible.
const LastCue = 2 * time.Second

// Formats lists the supported output extensions.
var Formats = []string{".srt", ".vtt", ".ssa", ".ass", ".ttml"}

// Cue is one annotation line group.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Lines []string
}

// Cues builds one cue per sampled frame, ordered by frame time. A cue lasts
// until the next sampled frame starts.
func Cues(v *result.Video, fps float64) ([]Cue, error) {
	if v == nil {
		return nil, fmt.Errorf("annotations need a video result")
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate: %v", fps)
	}
	frames := slices.Clone(v.Frames)
	slices.SortStableFunc(frames, func(a, b result.Frame) int { return a.Number - b.Number })

	cues := make([]Cue, 0, len(frames))
	for i, f := range frames {
		start := frameTime(f.Number, fps)
		end := start + LastCue
		if i+1 < len(frames) {
			if next := frameTime(frames[i+1].Number, fps); next > start {
				end = next
			}
		}
		cues = append(cues, Cue{Start: start, End: end, Lines: lines(f)})
	}
	return cues, nil
}

func frameTime(n int, fps float64) time.Duration {
	return time.Duration(float64(n) / fps * float64(time.Second)).Round(time.Millisecond)
}

func lines(f result.Frame) []string {
	head := fmt.Sprintf("Frame #%d", f.Number)
	if f.Blur != nil {
		head += " blur " + f.Blur.Level.Badge()
	}
	out := []string{head}
	if t := f.Text; t != nil {
		out = append(out, fmt.Sprintf("OCR %s -> %s (%s)", num(t.BeforeConfidence), num(t.AfterConfidence), delta(t.Improvement)))
	} else if f.ConfidenceLevel != nil {
		out = append(out, "Confidence "+num(*f.ConfidenceLevel))
	}
	return out
}

func num(v float64) string { return fmt.Sprintf("%.1f", v) }

func delta(v float64) string { return fmt.Sprintf("%+.1f", v) }

func toAstisub(cues []Cue) *astisub.Subtitles {
	subs := astisub.NewSubtitles()
	// WriteToSSA dereferences Metadata.
	subs.Metadata = &astisub.Metadata{SSAScriptType: "v4.00+", Title: "restora frame annotations"}
	for _, c := range cues {
		item := &astisub.Item{StartAt: c.Start, EndAt: c.End}
		for _, l := range c.Lines {
			item.Lines = append(item.Lines, astisub.Line{Items: []astisub.LineItem{{Text: l}}})
		}
		subs.Items = append(subs.Items, item)
	}
	return subs
}

// Encode writes cues in the format named by ext. An empty ext means SRT.
func Encode(w io.Writer, ext string, cues []Cue) error {
	subs := toAstisub(cues)
	switch strings.ToLower(ext) {
	case "", ".srt":
		return subs.WriteToSRT(w)
	case ".vtt":
		return subs.WriteToWebVTT(w)
	case ".ssa", ".ass":
		return subs.WriteToSSA(w)
	case ".ttml":
		return subs.WriteToTTML(w)
	default:
		return fmt.Errorf("unsupported annotation format %q (supported: %s)", ext, strings.Join(Formats, ", "))
	}
}

// Save writes the annotation track of v to path, choosing the format from
// its extension.
func Save(path string, v *result.Video, fps float64) error {
	cues, err := Cues(v, fps)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, filepath.Ext(path), cues); err != nil {
		return fmt.Errorf("failed to encode annotations: %w", err)
	}
	return files.AtomicWrite(path, buf.Bytes(), 0o644)
}
