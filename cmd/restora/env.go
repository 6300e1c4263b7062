package main

import (
	"fmt"
	"strings"

	"github.com/oukeidos/restora/internal/auth"
	"github.com/spf13/cobra"
)

var (
	saveToken   = auth.SaveToken
	deleteToken = auth.DeleteToken
)

func newEnvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage the service token in the OS keychain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnvStatus(cmd)
		},
	}

	cmd.SetUsageTemplate(envUsageTemplate)
	cmd.AddCommand(
		newEnvSetupCmd(),
		newEnvDeleteCmd(),
		newEnvStatusCmd(),
	)
	return cmd
}

func newEnvSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Save the service token to the keychain (prompt only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnvSetup(cmd)
		},
	}
	cmd.SetUsageTemplate(subcommandUsageTemplate)
	return cmd
}

func newEnvDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the service token from the keychain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deleteToken(); err != nil {
				return fmt.Errorf("error deleting token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted service token from keychain.")
			return nil
		},
	}
	cmd.SetUsageTemplate(subcommandUsageTemplate)
	return cmd
}

func newEnvStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show token status (default if no action given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnvStatus(cmd)
		},
	}
	cmd.SetUsageTemplate(subcommandUsageTemplate)
	return cmd
}

func runEnvSetup(cmd *cobra.Command) error {
	raw, err := promptForToken("Service token: ")
	if err != nil {
		return fmt.Errorf("error reading token: %w", err)
	}
	token := strings.TrimSpace(raw)
	if token == "" {
		return fmt.Errorf("a token is required for setup")
	}
	if err := saveToken(token); err != nil {
		return fmt.Errorf("error saving token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Saved service token to keychain.")
	return nil
}

func runEnvStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	if hasToken() {
		fmt.Fprintln(out, "Service token: Found (source=Keychain)")
		return nil
	}
	if _, ok := getEnvToken(); ok {
		fmt.Fprintf(out, "Service token: Found (source=%s; disabled by default, use --allow-env)\n", auth.SourceEnv)
		return nil
	}
	fmt.Fprintln(out, "Service token: Not Found (keychain empty, env not set; the service may not need one)")
	return nil
}
