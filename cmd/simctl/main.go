package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bikesim/market-engine/internal/archive"
	"github.com/bikesim/market-engine/internal/catalog"
	"github.com/bikesim/market-engine/internal/economy"
	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/sim"
	"github.com/bikesim/market-engine/internal/turn"
)

func main() {
	archivePath := envDefault("BIKESIM_ARCHIVE", "bikesim-runs.db")

	root := &cobra.Command{
		Use:          "simctl",
		Short:        "Headless bicycle market simulations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&archivePath, "archive", archivePath, "SQLite run archive")

	root.AddCommand(
		newRunCmd(&archivePath),
		newHistoryCmd(&archivePath),
		newForecastCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRunCmd(archivePath *string) *cobra.Command {
	var (
		cfg     sim.Config
		verbose bool
		noSave  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play an all-AI game and archive the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelInfo
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			cfg.Difficulty = model.Difficulty(strings.ToLower(string(cfg.Difficulty)))
			cfg.OnMonth = func(n turn.Notice) { renderMonth(n) }

			res, err := sim.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			renderResult(res)

			if noSave {
				return nil
			}
			db, err := archive.Open(*archivePath)
			if err != nil {
				return err
			}
			defer db.Close()

			runID := uuid.NewString()
			run, standings, points := res.Archive(runID)
			if err := db.SaveRun(run, standings, points); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Run %s archived to %s", runID, *archivePath))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Name, "name", "", "run name")
	f.IntVar(&cfg.Players, "players", sim.DefaultPlayers, "number of AI companies")
	f.IntVar(&cfg.Months, "months", sim.DefaultMonths, "months to play")
	f.StringVar(&cfg.Structure, "structure", string(model.StructureMonopolistic), "market structure")
	f.StringVar((*string)(&cfg.Difficulty), "difficulty", string(model.DifficultyMedium), "AI difficulty")
	f.Int64Var(&cfg.Seed, "seed", 0, "random seed (0 picks one)")
	f.BoolVarP(&verbose, "verbose", "v", false, "log engine activity")
	f.BoolVar(&noSave, "no-save", false, "do not archive the run")
	return cmd
}

func newHistoryCmd(archivePath *string) *cobra.Command {
	var (
		limit int
		line  string
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List archived runs or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := archive.Open(*archivePath)
			if err != nil {
				return err
			}
			defer db.Close()

			if len(args) == 0 {
				runs, err := db.ListRuns(limit)
				if err != nil {
					return err
				}
				renderRuns(os.Stdout, runs)
				return nil
			}

			run, err := db.GetRun(args[0])
			if err != nil {
				return err
			}
			standings, err := db.RunStandings(run.ID)
			if err != nil {
				return err
			}
			renderRun(os.Stdout, run, standings)
			if line != "" {
				points, err := db.RunPoints(run.ID, line)
				if err != nil {
					return err
				}
				renderPoints(os.Stdout, line, points)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "runs to list")
	cmd.Flags().StringVar(&line, "line", "", "show the price series of one product line")
	return cmd
}

func newForecastCmd() *cobra.Command {
	var (
		months   int
		phase    string
		duration int
	)
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Project the economy from a starting phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			if months < 1 || months > 24 {
				return fmt.Errorf("months must be between 1 and 24")
			}
			c := economy.Default("", 1, 2024)
			switch p := model.Phase(strings.ToLower(phase)); p {
			case model.PhaseExpansion, model.PhasePeak, model.PhaseContraction, model.PhaseTrough:
				c.Phase = p
			default:
				return fmt.Errorf("unknown phase %q", phase)
			}
			c.PhaseDuration = duration

			forecasts := make([]economy.Forecast, 0, months)
			for m := 1; m <= months; m++ {
				forecasts = append(forecasts, economy.ForecastAhead(c, m))
			}
			impact := map[string]float64{}
			for _, l := range catalog.DefaultLines() {
				impact[l.Name] = economy.ImpactMultiplier(c, catalog.Classify(l.Name))
			}
			renderForecast(os.Stdout, c, forecasts, impact)
			return nil
		},
	}
	cmd.Flags().IntVar(&months, "months", 6, "months ahead")
	cmd.Flags().StringVar(&phase, "phase", string(model.PhaseExpansion), "starting phase")
	cmd.Flags().IntVar(&duration, "phase-duration", 0, "months already spent in the phase")
	return cmd
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}
