package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/OkinawaBoss/WeatharrStation/internal/config"
	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	prettyLogs bool
	rootCmd    = &cobra.Command{
		Use:   "weatharr",
		Short: "Weatharr Station - a 24/7 local weather channel",
		Long: `Weatharr Station renders a retro local-forecast broadcast from National
Weather Service data and streams it through ffmpeg as MPEG-TS.

Features:
  • Rotating pages: current conditions, radar, hourly, 7-day, extended, observations
  • Scrolling ticker with alerts and RSS headlines
  • UDP, TCP, SRT, HTTP or file output with hardware encoder detection
  • Optional music bed and spoken narration
  • REST/WebSocket control API and MJPEG preview
  • MQTT status telemetry`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(viper.GetString("log_level"), prettyLogs)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/weatharr/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty", false, "human readable console logs")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("WEATHARR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file and layers flag and WEATHARR_*
// environment overrides on top
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := configMgr.ApplyOverrides(viper.GetViper()); err != nil {
		return nil, err
	}
	logger.Init(configMgr.Get().LogLevel, prettyLogs)
	return configMgr, nil
}
