// ABOUTME: Root command for the phoenix-audio CLI
// ABOUTME: Global flags, config loading and log routing
package commands

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/team-phoenix/phoenix-audio/internal/config"
)

var (
	// Global flags
	configPath string
	logFile    string
	verbose    bool

	globalConfig  *config.Config
	configLoadErr error
)

var rootCmd = &cobra.Command{
	Use:   "phoenix-audio",
	Short: "Drift-corrected audio playback",
	Long: `phoenix-audio plays audio from an independently clocked producer through
a system or virtual output device, continuously correcting the playback rate
so the device buffer neither underruns nor overflows.

Configuration is read from ~/.phoenix-audio/config.yaml unless --config is
given. Command flags override the file.

Examples:
  # Play a test tone on the default device
  phoenix-audio play

  # Play a file with a producer clock running 300 ppm fast
  phoenix-audio play --drift 300 song.flac

  # Headless run against a virtual device, recording the output
  phoenix-audio play --sink virtual --no-tui --record out.wav song.mp3

  # Watch the rate trace of a running instance
  phoenix-audio monitor`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.phoenix-audio/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initConfig() {
	cfg, err := config.Load(configPath)
	if err != nil {
		// Reported by commands that need the config
		configLoadErr = err
		return
	}
	globalConfig = cfg
}

// GetConfig returns the loaded configuration
func GetConfig() (*config.Config, error) {
	if configLoadErr != nil {
		return nil, fmt.Errorf("failed to load config: %w", configLoadErr)
	}
	if globalConfig == nil {
		return config.Default(), nil
	}
	return globalConfig, nil
}

// setupLogging sends logs to the log file, and also to stderr when the TUI
// is not using the terminal. The returned func closes the file.
func setupLogging(cfg *config.Config, useTUI bool) (func(), error) {
	path := logFile
	if path == "" {
		path = cfg.LogFile
	}
	if path == "" {
		if useTUI {
			log.SetOutput(io.Discard)
		}
		return func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}
	return func() { _ = f.Close() }, nil
}
