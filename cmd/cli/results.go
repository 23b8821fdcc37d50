package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show whether the backend is running a scan",
	Example: `  mapperctl status --server http://scanner.local:8080`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := newSession(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		status, err := s.client.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}
		s.term.Status(status.InProgress, status.Command)
		return nil
	},
}

// scansCmd represents the scans command
var scansCmd = &cobra.Command{
	Use:     "scans",
	Aliases: []string{"list", "ls"},
	Short:   "List past scans, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := newSession(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		scans, err := s.store.ListScans(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list scans: %w", err)
		}
		s.term.Scans(scans)
		return nil
	},
}

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:     "show <scan-id>",
	Short:   "Show hosts, services and vulnerabilities of one scan",
	Example: `  mapperctl show network_scan_20240101_120000`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		detail, err := s.store.GetScanDetail(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to load scan %s: %w", args[0], err)
		}
		s.term.Detail(detail)
		return nil
	},
}

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:     "report <scan-id>",
	Short:   "Print the link to the HTML report of a scan",
	Example: `  xdg-open "$(mapperctl report network_scan_20240101_120000)"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.store.ReportURL(args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, scansCmd, showCmd, reportCmd)
}
