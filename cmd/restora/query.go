package main

import (
	"fmt"

	"github.com/oukeidos/restora/internal/logger"
	"github.com/oukeidos/restora/internal/media"
	"github.com/oukeidos/restora/internal/result"
	"github.com/oukeidos/restora/internal/service"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	opts := serviceOptions{}
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Query the status of a job once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newServiceClient(cmd, &opts)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			report, err := client.Status(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %s: %s\n", report.JobID, report.Status)
			if report.Status == service.StatusFailed && report.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", report.Error)
			}
			return nil
		},
		SilenceUsage: true,
	}
	cmd.SetUsageTemplate(subcommandUsageTemplate)
	addServiceFlags(cmd, &opts, false)
	return cmd
}

type resultOptions struct {
	service  serviceOptions
	output   outputOptions
	category string
}

func newResultCmd() *cobra.Command {
	opts := resultOptions{}
	cmd := &cobra.Command{
		Use:   "result <job-id>",
		Short: "Fetch and show the result of a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResult(cmd, args[0], &opts)
		},
		SilenceUsage: true,
	}
	cmd.SetUsageTemplate(subcommandUsageTemplate)
	addServiceFlags(cmd, &opts.service, false)
	cmd.Flags().StringVar(&opts.category, "type", string(media.Image), "Result type: image or video")
	addOutputFlags(cmd, &opts.output, true)
	return cmd
}

func runResult(cmd *cobra.Command, jobID string, opts *resultOptions) error {
	category, err := media.ParseCategory(opts.category)
	if err != nil {
		return err
	}
	if err := opts.output.validate(category); err != nil {
		return err
	}
	client, _, err := newServiceClient(cmd, &opts.service)
	if err != nil {
		return err
	}
	if err := opts.output.confirmOverwrite(); err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	raw, err := client.Result(ctx, jobID)
	if err != nil {
		return err
	}
	payload, err := result.Normalize(raw, category)
	if err != nil {
		logger.Error("Result rejected", "job_id", jobID, "error", err)
		return err
	}
	return presentResult(cmd, jobID, "", payload, &opts.output)
}

func newHealthCmd() *cobra.Command {
	opts := serviceOptions{}
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the processing service is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newServiceClient(cmd, &opts)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			health, err := client.Health(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s", client.BaseURL(), health.Status)
			if health.Timestamp != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " (%s)", health.Timestamp)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
		SilenceUsage: true,
	}
	cmd.SetUsageTemplate(subcommandUsageTemplate)
	addServiceFlags(cmd, &opts, false)
	return cmd
}
