package main

import (
	"context"
	"fmt"
	"os"

	"github.com/oukeidos/restora/internal/lifecycle"
	"github.com/oukeidos/restora/internal/logger"
	"github.com/oukeidos/restora/internal/media"
	"github.com/oukeidos/restora/internal/poller"
	"github.com/oukeidos/restora/internal/render"
	"github.com/spf13/cobra"
)

type jobKind struct {
	category media.Category
	use      string
	short    string
}

var (
	jobImage = jobKind{media.Image, "image <file>", "Restore a single blurred image"}
	jobVideo = jobKind{media.Video, "video <file>", "Restore a video and review sampled frames"}
)

type jobOptions struct {
	service     serviceOptions
	output      outputOptions
	contentType string
}

func newJobCmd(kind jobKind) *cobra.Command {
	opts := jobOptions{}
	cmd := &cobra.Command{
		Use:   kind.use,
		Short: kind.short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				_ = cmd.Usage()
				return fmt.Errorf("exactly one %s file is required", kind.category)
			}
			return runJob(cmd, kind.category, args[0], &opts)
		},
		SilenceUsage: true,
	}

	cmd.SetUsageTemplate(subcommandUsageTemplate)
	addServiceFlags(cmd, &opts.service, true)
	cmd.Flags().StringVar(&opts.contentType, "content-type", "", "Override the detected content type")
	addOutputFlags(cmd, &opts.output, kind.category == media.Video)
	return cmd
}

func runJob(cmd *cobra.Command, category media.Category, path string, opts *jobOptions) error {
	if err := opts.output.validate(category); err != nil {
		return err
	}
	client, cfg, err := newServiceClient(cmd, &opts.service)
	if err != nil {
		return err
	}
	if err := opts.output.confirmOverwrite(); err != nil {
		return err
	}

	file, err := media.FromPath(path, opts.contentType)
	if err != nil {
		return err
	}

	machine := lifecycle.NewMachine(client, poller.New(client, nil, cfg.Poller()), media.Combined)
	if _, err := machine.Select(file, category); err != nil {
		return err
	}

	progress := render.NewProgressLine(cmd.ErrOrStderr(), isTerminal(int(os.Stderr.Fd())))
	unsubscribe := machine.Subscribe(progress.Update)
	defer unsubscribe()

	ctx, stop := signalContext()
	defer stop()
	stopReset := context.AfterFunc(ctx, machine.Reset)
	defer stopReset()

	job, err := machine.Submit(ctx, category)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("Upload canceled")
			return nil
		}
		return err
	}

	state, err := machine.Wait(ctx)
	progress.Done()
	if err != nil || ctx.Err() != nil {
		logger.Warn("Job canceled", "job_id", job.ID)
		return nil
	}
	if state.Phase != lifecycle.Results || state.Job == nil || state.Job.Result == nil {
		logger.Error("Job did not complete", "job_id", job.ID, "message", state.Message)
		return fmt.Errorf("%s", state.Message)
	}

	return presentResult(cmd, state.Job.ID, file.Name, *state.Job.Result, &opts.output)
}
