package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/anstrom/mapperctl/internal/lifecycle"
	"github.com/anstrom/mapperctl/internal/request"
)

var (
	scanConfig request.ScanConfig
	scanNoWait bool
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Submit a scan and follow it to completion",
	Long: `Submit a network scan to the backend and follow its progress.

The command polls the backend until the scan finishes, showing a simulated
progress bar, then prints the refreshed list of scans. Press Ctrl+C to stop
following; the scan itself keeps running on the backend.`,
	Example: `  mapperctl scan --network 192.168.1.0/24
  mapperctl scan -n 10.0.0.0/24 --threads 100 --skip-vuln
  mapperctl scan -n 10.0.0.0/24 --no-wait`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().AddFlagSet(scanFlagSet(&scanConfig))
	scanCmd.Flags().BoolVar(&scanNoWait, "no-wait", false, "return once the backend accepts the scan")
	_ = scanCmd.MarkFlagRequired("network")
}

// scanFlagSet returns flags that fill cfg. The same set backs every command
// that describes a scan.
func scanFlagSet(cfg *request.ScanConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet("scan", pflag.ContinueOnError)
	fs.StringVarP(&cfg.NetworkRange, "network", "n", "", "network range to scan (CIDR, e.g. 192.168.1.0/24)")
	fs.StringVarP(&cfg.OutputPath, "output", "o", "", "output directory on the backend")
	fs.IntVarP(&cfg.ThreadCount, "threads", "t", 0, "number of scanner threads (0 uses the mapper default)")
	fs.BoolVar(&cfg.Verbose, "mapper-verbose", false, "run the mapper in verbose mode")
	fs.BoolVar(&cfg.SkipVulnScan, "skip-vuln", false, "skip vulnerability scanning")
	fs.BoolVar(&cfg.SkipCredCheck, "skip-creds", false, "skip default credential checks")
	fs.BoolVar(&cfg.SkipFingerprinting, "skip-fingerprint", false, "skip OS and service fingerprinting")
	fs.BoolVar(&cfg.InstallDeps, "install-deps", false, "let the mapper install missing dependencies")
	return fs
}

func runScan(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	ctrl := s.controller()
	accepted, err := ctrl.Submit(ctx, scanConfig)
	if err != nil {
		return fmt.Errorf("scan submission failed: %w", err)
	}
	if scanNoWait {
		ctrl.Stop()
		fmt.Fprintf(cmd.OutOrStdout(), "Scan started: %s\n", accepted.Command)
		return nil
	}

	if err := ctrl.WaitIdle(ctx); err != nil {
		ctrl.Stop()
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(cmd.OutOrStdout(), "Stopped following the scan; it continues on the backend.")
			return nil
		}
		return err
	}
	if ctrl.LastOutcome() == lifecycle.Failed {
		return fmt.Errorf("scan did not complete: status polling failed")
	}
	return nil
}
