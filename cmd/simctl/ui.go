package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	"github.com/bikesim/market-engine/internal/archive"
	"github.com/bikesim/market-engine/internal/economy"
	"github.com/bikesim/market-engine/internal/model"
	"github.com/bikesim/market-engine/internal/sim"
	"github.com/bikesim/market-engine/internal/turn"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// colorMoney prints negative amounts in red.
func colorMoney(d decimal.Decimal) string {
	if d.IsNegative() {
		return danger.Sprint(money(d))
	}
	return success.Sprint(money(d))
}

func renderMonth(n turn.Notice) {
	accent.Printf("\n== Month %d settled, clock at %04d-%02d ==\n", n.Version, n.Year, n.Month)
	lines := append([]turn.LinePrice(nil), n.Clearing...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductLine < lines[j].ProductLine })
	for _, l := range lines {
		fmt.Printf("  %-10s price %10s  sold %5d / %5d\n", l.ProductLine, money(l.ClearingPrice), l.TotalSold, l.TotalDemanded)
	}
	if n.Status == model.StatusCompleted {
		printWarn(fmt.Sprintf("Game over: %s", n.EndReason))
	}
}

func renderResult(res *sim.Result) {
	accent.Printf("\n== FINAL STANDINGS: %s ==\n", res.Game.Name)
	standings := archive.Standings("", res.Participants)
	w := tabwriter.NewWriter(color.Output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tCOMPANY\tSTRATEGY\tBALANCE\tREVENUE\tSHARE\t")
	for _, s := range standings {
		name := s.Name
		if s.ParticipantID == res.Game.WinnerID {
			name += " *"
		}
		if s.Bankrupt {
			name += " (bankrupt)"
		}
		revenue, _ := decimal.NewFromString(s.Revenue)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.1f%%\t\n", s.Rank, name, s.Strategy, colorMoney(s.BalanceValue()), money(revenue), s.MarketShare)
	}
	w.Flush()

	bankruptcies := 0
	for _, e := range res.Events {
		if e.Kind == model.EventBankruptcy {
			bankruptcies++
		}
	}
	printInfo(fmt.Sprintf("%d months, %d bankruptcies, seed %d", res.Game.Version, bankruptcies, res.Game.Seed))
}

func renderRuns(out io.Writer, runs []archive.Run) {
	if len(runs) == 0 {
		printInfo("No archived runs.")
		return
	}
	accent.Fprintln(out, "\n== ARCHIVED RUNS ==")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTRUCTURE\tMONTHS\tFINISHED\t")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t\n", r.ID, r.Name, r.Structure, r.Months, r.FinishedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func renderRun(out io.Writer, run archive.Run, standings []archive.Standing) {
	accent.Fprintf(out, "\n== %s ==\n", run.Name)
	fmt.Fprintf(out, "Structure:  %s\n", run.Structure)
	fmt.Fprintf(out, "Difficulty: %s\n", run.Difficulty)
	fmt.Fprintf(out, "Seed:       %d\n", run.Seed)
	fmt.Fprintf(out, "Months:     %d\n", run.Months)
	if run.EndReason != "" {
		fmt.Fprintf(out, "Ended:      %s\n", run.EndReason)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tCOMPANY\tSTRATEGY\tBALANCE\tSHARE\t")
	for _, s := range standings {
		name := s.Name
		if s.ParticipantID == run.WinnerID {
			name += " *"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.1f%%\t\n", s.Rank, name, s.Strategy, colorMoney(s.BalanceValue()), s.MarketShare)
	}
	w.Flush()
}

func renderPoints(out io.Writer, line string, points []archive.Point) {
	accent.Fprintf(out, "\n== %s prices ==\n", line)
	if len(points) == 0 {
		printInfo("No clearing data for that line.")
		return
	}
	for _, p := range points {
		fill := 0.0
		if p.TotalDemanded > 0 {
			fill = float64(p.TotalSold) / float64(p.TotalDemanded)
		}
		bar := strings.Repeat("#", int(fill*20))
		fmt.Fprintf(out, "%04d-%02d  %10s  %-20s %5d sold  hhi %.0f\n", p.Year, p.Month, p.ClearingPrice, bar, p.TotalSold, p.HHI)
	}
}

func renderForecast(out io.Writer, c model.EconomicCondition, forecasts []economy.Forecast, impact map[string]float64) {
	accent.Fprintf(out, "\n== FORECAST from %s (month %d of phase) ==\n", c.Phase, c.PhaseDuration)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AHEAD\tPHASE\tGDP\tUNEMPLOYMENT\tDEMAND\tCONFIDENCE\t")
	for _, f := range forecasts {
		phase := string(f.Phase)
		if f.PhaseChangeExpected {
			phase = warn.Sprint(phase)
		}
		fmt.Fprintf(w, "+%d\t%s\t%.2f%%\t%.2f%%\tx%.2f\t%.0f%%\t\n",
			f.MonthsAhead, phase, f.GDPGrowth, f.Unemployment, f.DemandMultiplier, f.Confidence*100)
	}
	w.Flush()

	names := make([]string, 0, len(impact))
	for n := range impact {
		names = append(names, n)
	}
	sort.Strings(names)
	accent.Fprintln(out, "\nCurrent impact by line:")
	for _, n := range names {
		fmt.Fprintf(out, "  %-14s x%.2f\n", n, impact[n])
	}
}
