package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/oukeidos/restora/internal/logger"
	"github.com/oukeidos/restora/internal/media"
	"github.com/oukeidos/restora/internal/prompt"
	"github.com/oukeidos/restora/internal/render"
	"github.com/oukeidos/restora/internal/report"
	"github.com/oukeidos/restora/internal/result"
	"github.com/spf13/cobra"
)

var newConfirmer = prompt.DefaultConfirmer

// outputOptions control what is written besides the printed summary.
type outputOptions struct {
	outDir      string
	annotations string
	fps         float64
	yes         bool
}

func addOutputFlags(cmd *cobra.Command, opts *outputOptions, annotations bool) {
	cmd.Flags().StringVar(&opts.outDir, "out", "", "Directory to save the decoded result images")
	if annotations {
		cmd.Flags().StringVar(&opts.annotations, "annotations", "", "Write a frame annotation track ("+strings.Join(report.Formats, ", ")+")")
		cmd.Flags().Float64Var(&opts.fps, "fps", report.DefaultFPS, "Frame rate of the source video, for annotation timing")
		cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Overwrite the annotation file without asking")
	}
}

func (o *outputOptions) validate(category media.Category) error {
	if o.annotations == "" {
		return nil
	}
	if category != media.Video {
		return fmt.Errorf("annotations are only available for video results")
	}
	ext := strings.ToLower(filepath.Ext(o.annotations))
	if !slices.Contains(report.Formats, ext) {
		if ext == "" {
			ext = "(none)"
		}
		return fmt.Errorf("unsupported annotation extension %q (supported: %s)", ext, strings.Join(report.Formats, ", "))
	}
	if o.fps <= 0 {
		return fmt.Errorf("fps must be greater than 0, got %v", o.fps)
	}
	return nil
}

// confirmOverwrite asks before a job runs, so a declined overwrite costs
// no processing time.
func (o *outputOptions) confirmOverwrite() error {
	if o.annotations == "" {
		return nil
	}
	if _, err := os.Stat(o.annotations); err != nil {
		return nil
	}
	ok, err := newConfirmer().ConfirmOverwrite(o.annotations, o.yes)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("annotation file exists: %s (use --yes to overwrite)", o.annotations)
	}
	return nil
}

func presentResult(cmd *cobra.Command, jobID, name string, p result.Payload, o *outputOptions) error {
	out := cmd.OutOrStdout()
	if err := render.Summary(out, jobID, name, p); err != nil {
		return err
	}

	if o.outDir != "" {
		paths, err := render.SaveImages(o.outDir, p)
		if err != nil {
			return err
		}
		logger.Info("Saved result images", "dir", o.outDir, "count", len(paths))
		fmt.Fprintf(out, "\nSaved %d images to %s\n", len(paths), o.outDir)
	}

	if o.annotations != "" {
		if err := report.Save(o.annotations, p.Video, o.fps); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote frame annotations to %s\n", o.annotations)
	}
	return nil
}
