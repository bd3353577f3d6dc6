package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/sawpanic/fusionrun/internal/domain"
	"github.com/sawpanic/fusionrun/internal/engine"
	"github.com/sawpanic/fusionrun/internal/fusion"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
)

// money colours a signed amount by sign.
func money(v float64) string {
	switch {
	case v > 0:
		return green("%+.2f", v)
	case v < 0:
		return red("%+.2f", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

func direction(d domain.Direction) string {
	switch d {
	case domain.Long:
		return green("%s", strings.ToUpper(string(d)))
	case domain.Short:
		return red("%s", strings.ToUpper(string(d)))
	default:
		return yellow("%s", strings.ToUpper(string(d)))
	}
}

// printSummary renders balances, open positions and trade statistics.
func printSummary(w io.Writer, snap engine.Snapshot) {
	s, m := snap.State, snap.Metrics

	fmt.Fprintln(w, bold(appName+" portfolio"))
	fmt.Fprintf(w, "  Total %.2f   Available %.2f   Reserved %.2f   Day P&L %s\n",
		s.Total, s.Available, s.Reserved, money(s.DailyPnL))
	if !s.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "  %s\n", faint("updated "+s.UpdatedAt.Format(time.RFC3339)))
	}
	fmt.Fprintln(w)

	if len(s.Positions) == 0 {
		fmt.Fprintln(w, faint("No open positions"))
	} else {
		instruments := make([]string, 0, len(s.Positions))
		for inst := range s.Positions {
			instruments = append(instruments, inst)
		}
		sort.Strings(instruments)

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "INSTRUMENT\tSIDE\tSIZE\tENTRY\tMARK\tSTOP\tUNREALIZED\tREALIZED\tSTATUS")
		for _, inst := range instruments {
			p := s.Positions[inst]
			mark, unrealized := "-", "-"
			if px, ok := snap.Marks[inst]; ok {
				mark = fmt.Sprintf("%.4f", px)
				unrealized = money(p.Unrealized(px))
			}
			fmt.Fprintf(tw, "%s\t%s\t%.6f\t%.4f\t%s\t%.4f\t%s\t%s\t%s\n",
				inst, direction(p.Direction), p.Size, p.EntryPrice, mark,
				p.Exit.Stop.Price, unrealized, money(p.RealizedPnL), p.Status)
		}
		tw.Flush()
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Trades %d   Win rate %.1f%%   Profit factor %.2f   Sharpe %.2f   Max drawdown %.1f%%\n",
		m.TotalTrades, m.WinRate*100, m.ProfitFactor, m.Sharpe, m.MaxDrawdown*100)
	fmt.Fprintf(w, "Realized %s   Unrealized %s   Exposure %.1f%%\n",
		money(m.RealizedPnL), money(m.UnrealizedPnL), m.Exposure*100)
}

// printSignal renders a fused signal with its per-indicator contributions.
func printSignal(w io.Writer, sig fusion.Signal) {
	fmt.Fprintf(w, "%s %s  strength %.3f  confidence %.3f\n",
		bold(sig.Instrument), direction(sig.Direction), sig.Strength, sig.Confidence)
	fmt.Fprintf(w, "  regime %s (%.0f%% of votes)  score %+.3f  agreement %.2f  at %s\n\n",
		sig.Regime, sig.Detection.Confidence*100, sig.Score, sig.Agreement, sig.Time.Format(time.RFC3339))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDICATOR\tSCORE\tRELIABILITY\tVALUES")
	for _, r := range sig.Contributions {
		keys := make([]string, 0, len(r.Values))
		for k := range r.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		values := make([]string, 0, len(keys))
		for _, k := range keys {
			values = append(values, fmt.Sprintf("%s=%.4f", k, r.Values[k]))
		}
		score := fmt.Sprintf("%+.3f", r.Score)
		if r.Crossover {
			score += " x"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", r.Kind, score, r.Reliability, strings.Join(values, " "))
	}
	tw.Flush()
}
