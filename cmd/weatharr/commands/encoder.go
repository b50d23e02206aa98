package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/OkinawaBoss/WeatharrStation/internal/stream"
	"github.com/spf13/cobra"
)

var encoderArgsCmd = &cobra.Command{
	Use:   "encoder-args",
	Short: "Print the ffmpeg command without starting it",
	Long: `Resolve the encoder, destination and audio inputs for the current
configuration and print the resulting ffmpeg command line.`,
	Example: `  # Shell-quoted command
  weatharr encoder-args

  # Argument vector as JSON
  weatharr encoder-args --json`,
	RunE: runEncoderArgs,
}

var encoderJSON bool

func init() {
	rootCmd.AddCommand(encoderArgsCmd)
	encoderArgsCmd.Flags().BoolVar(&encoderJSON, "json", false, "print the argument vector as JSON")
}

func runEncoderArgs(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	lc, err := stream.BuildLaunchConfig(stream.SettingsFromConfig(cfg), stream.HostPlatform())
	if err != nil {
		return fmt.Errorf("failed to build encoder command: %w", err)
	}

	if encoderJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(struct {
			Path    string   `json:"path"`
			Args    []string `json:"args"`
			Encoder string   `json:"encoder"`
			URL     string   `json:"url"`
		}{lc.Path, lc.Args, string(lc.Encoder), lc.Destination.URL})
	}

	fmt.Println(lc.String())
	return nil
}
