package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/OkinawaBoss/WeatharrStation/internal/station"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Start the broadcast",
	Long: `Render the weather channel and stream it to the configured output until
interrupted, stopped through the API, or stopped by the stop file.`,
	Example: `  # Stream with the saved configuration
  weatharr stream

  # Stream to an SRT listener on port 9000 for ZIP 77550
  weatharr stream --output "srt://:9000" --zip 77550

  # 720p at 15 fps with debug logging
  weatharr stream --width 1280 --height 720 --fps 15 --log-level debug`,
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)

	flags := streamCmd.Flags()
	flags.String("output", "", "output URL (udp://, tcp://, srt://, http:// or a file)")
	flags.String("zip", "", "US ZIP code for the forecast location")
	flags.Int("width", 0, "render width")
	flags.Int("height", 0, "render height")
	flags.Int("fps", 0, "frames per second")
	flags.String("encoder", "", "video encoder (auto, libx264, h264_nvenc, h264_qsv, h264_videotoolbox)")
	flags.Int("port", 0, "control API port")

	viper.BindPFlag("output.url", flags.Lookup("output"))
	viper.BindPFlag("station.zip", flags.Lookup("zip"))
	viper.BindPFlag("render.width", flags.Lookup("width"))
	viper.BindPFlag("render.height", flags.Lookup("height"))
	viper.BindPFlag("render.fps", flags.Lookup("fps"))
	viper.BindPFlag("output.encoder", flags.Lookup("encoder"))
	viper.BindPFlag("api.port", flags.Lookup("port"))
}

func runStream(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log := logger.WithComponent("main")

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("output", cfg.Output.URL).
		Msg("Starting Weatharr Station")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := station.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up station: %w", err)
	}

	if cfg.API.Enabled {
		log.Info().
			Str("ui", fmt.Sprintf("http://localhost:%d", cfg.API.Port)).
			Msg("Control API enabled")
	}

	if err := st.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("Shut down cleanly")
	return nil
}
