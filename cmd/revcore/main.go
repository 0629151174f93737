package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/alejandrodnm/revcore/config"
)

var (
	configPath string
	verbose    bool
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "revcore",
	Short: "Decision-intelligence core for a revenue agent",
	Long: `revcore evaluates revenue opportunities through pricing, hierarchical
bandits, Kelly capital allocation, adversarial risk and experiments, and
learns from the outcomes it is fed back.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "set log level to debug")
	rootCmd.PersistentFlags().StringVar(&logFormat, "format", "", "log format: console|json (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig carga la configuración y aplica los flags globales. Un config
// inexistente en la ruta por defecto no es un error: se usan los defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	path := configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, setupLogger(cfg.Log), nil
}

// setupLogger construye el logger raíz. Los logs van a stderr para que los
// reportes en stdout queden limpios.
func setupLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Format == "json" {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	return log.Level(level).With().Timestamp().Logger()
}
