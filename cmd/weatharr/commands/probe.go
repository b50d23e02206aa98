package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/probe"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe [URL]",
	Short: "Receive the output stream and report what arrives",
	Long: `Connect to (or, for udp://, listen on) the station output for a few
seconds and report the bitrate and MPEG-TS packet counts. Without a URL the
configured output is probed.`,
	Example: `  # Probe the configured output
  weatharr probe

  # Probe an SRT listener for ten seconds
  weatharr probe srt://127.0.0.1:9000 --duration 10s`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

var probeDuration time.Duration

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().DurationVarP(&probeDuration, "duration", "d", 5*time.Second, "how long to receive")
}

func runProbe(cmd *cobra.Command, args []string) error {
	target := ""
	if len(args) == 1 {
		target = args[0]
	} else {
		configMgr, err := loadConfig()
		if err != nil {
			return err
		}
		target = configMgr.Get().Output.URL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := probe.Run(ctx, target, probeDuration)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	fmt.Println(res.String())
	if res.Packets == 0 {
		return fmt.Errorf("no transport stream packets received from %s", target)
	}
	return nil
}
