package cli

import (
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ent0n29/complyassist/internal/app"
)

func newModelsCommand(level *slog.LevelVar) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Print the model limits table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(level)
			if err != nil {
				return err
			}
			models, err := app.LoadModels(cfg)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tCONTEXT\tOUTPUT\tOVERHEAD\tDEFAULT")
			for _, name := range models.Models() {
				limits, err := models.Lookup(name)
				if err != nil {
					continue
				}
				mark := ""
				if strings.EqualFold(name, strings.TrimSpace(cfg.DefaultModel)) {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n",
					name, limits.ContextWindow, limits.MaxOutputTokens, limits.ReservedOverheadTokens, mark)
			}
			return tw.Flush()
		},
	}
}
