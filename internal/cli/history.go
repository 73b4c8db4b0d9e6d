package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/complyassist/internal/app"
	"github.com/ent0n29/complyassist/internal/assistant"
	"github.com/ent0n29/complyassist/internal/history"
)

type historyFlags struct {
	tenant   string
	session  string
	scope    string
	pageKind string
	query    string
	budget   int
	model    string
	asJSON   bool
	timeout  time.Duration
}

func newHistoryCommand(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var f historyFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the formatted history the assistant would see",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(f.tenant) == "" {
				return errors.New("--tenant is required")
			}
			cfg, err := loadConfig(level)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
			defer cancel()

			built, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer built.Cleanup()

			budget := f.budget
			if budget <= 0 {
				model := f.model
				if strings.TrimSpace(model) == "" {
					model = cfg.DefaultModel
				}
				limits, err := built.Models.Lookup(model)
				if err != nil {
					return err
				}
				base := cfg.PlaceholderBaseTokens
				if base <= 0 {
					base = assistant.DefaultPlaceholderBaseTokens
				}
				budget = history.Budget(limits, base, history.EstimateTokens(f.query)).Allowance
			}

			res, err := built.Engine.History(ctx, history.Request{
				TenantID:  f.tenant,
				SessionID: f.session,
				ScopeID:   f.scope,
				PageKind:  f.pageKind,
				Query:     f.query,
				Budget:    budget,
			})
			if err != nil {
				return err
			}
			if f.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %d recent, %d relevant, %d dropped, %d/%d tokens\n",
				res.RecencyCount, res.RelevanceCount, res.Dropped, res.Tokens, budget)
			_, err = fmt.Fprint(out, res.Text)
			return err
		},
	}
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&f.session, "session", "", "session id (defaults to the shared session)")
	cmd.Flags().StringVar(&f.scope, "scope", "", "scope id, e.g. an AI system id")
	cmd.Flags().StringVar(&f.pageKind, "page-kind", "", "page kind: dashboard, system, assessment, regulation")
	cmd.Flags().StringVar(&f.query, "query", "", "text used for relevance retrieval")
	cmd.Flags().IntVar(&f.budget, "budget", 0, "history budget in tokens (derived from --model when zero)")
	cmd.Flags().StringVar(&f.model, "model", "", "model whose limits size the budget")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the full result as JSON")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "overall timeout")
	return cmd
}
