package cli

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/complyassist/internal/config"
)

const version = "0.1.0"

// NewRoot builds the command tree. level is adjusted to LOG_LEVEL once the
// configuration is loaded.
func NewRoot(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	root := &cobra.Command{
		Use:           "complyassist",
		Short:         "Conversational context service for the compliance assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand(logger, level))
	root.AddCommand(newHistoryCommand(logger, level))
	root.AddCommand(newModelsCommand(level))
	root.AddCommand(newVersionCommand())

	return root
}

func loadConfig(level *slog.LevelVar) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if level != nil {
		level.Set(parseLevel(cfg.LogLevel))
	}
	return cfg, nil
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
