package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dantezy/polyweather/internal/engine"
	"github.com/dantezy/polyweather/internal/weather"
)

var (
	atFlag      string
	outcomeFlag []string
)

var blendCmd = &cobra.Command{
	Use:   "blend <city>",
	Short: "Show the blended forecast high and model weights",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlend,
}

var distCmd = &cobra.Command{
	Use:   "dist <city>",
	Short: "Show the settlement probability distribution",
	Args:  cobra.ExactArgs(1),
	RunE:  runDist,
}

func init() {
	addDateFlag(blendCmd)
	addDateFlag(distCmd)
	distCmd.Flags().StringVar(&atFlag, "at", "", "query time, RFC3339 (default now)")
	distCmd.Flags().StringSliceVar(&outcomeFlag, "outcome", nil, `market outcome label to price, e.g. "80-81°F" (repeatable)`)
	rootCmd.AddCommand(blendCmd, distCmd)
}

func runBlend(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine.Engine) error {
		date, err := resolveDate(eng, args[0])
		if err != nil {
			return err
		}
		fc, err := eng.BlendedForecast(args[0], date)
		if err != nil {
			return err
		}
		printForecast(fc)
		return nil
	})
}

func runDist(cmd *cobra.Command, args []string) error {
	now := time.Now()
	if atFlag != "" {
		t, err := time.Parse(time.RFC3339, atFlag)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		now = t
	}
	outcomes := make([]weather.Outcome, 0, len(outcomeFlag))
	for _, label := range outcomeFlag {
		o, err := weather.ParseOutcome(label)
		if err != nil {
			return err
		}
		outcomes = append(outcomes, o)
	}
	return withEngine(func(ctx context.Context, eng *engine.Engine) error {
		date, err := resolveDate(eng, args[0])
		if err != nil {
			return err
		}
		s, err := eng.SettlementDistribution(args[0], date, now)
		if err != nil {
			return err
		}
		printForecast(s.Forecast)
		printDistribution(s)
		if len(outcomes) > 0 {
			fmt.Println(strings.Repeat("-", 40))
			for _, o := range outcomes {
				fmt.Printf("%-20s %6.2f%%\n", o.Label, s.Distribution.OutcomeProb(o)*100)
			}
		}
		return nil
	})
}

func printForecast(fc *engine.Forecast) {
	u := fc.Unit
	fmt.Printf("\n%s %s\n", fc.City, fc.Date)
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("blended high:  %.2f°%s", fc.Mu, u)
	if fc.Corrected {
		fmt.Printf(" (raised from %.2f, trend %s)", fc.ModelMu, fc.Trend)
	}
	fmt.Println()
	if fc.EnsembleUsed {
		fmt.Printf("model blend:   %.2f°%s\n", fc.ModelMu, u)
	}
	fmt.Printf("settles at:    %d°%s", weather.SettleValue(fc.Mu), u)
	if dist, near := weather.NearBoundary(fc.Mu); near {
		fmt.Printf(" (%.2f from the rounding edge)", dist)
	}
	fmt.Println()
	fmt.Printf("consensus:     %s (spread %.1f)\n", fc.Consensus.Level, fc.Consensus.Spread)
	if fc.MaxSoFar != nil {
		fmt.Printf("max so far:    %.1f°%s, trend %s\n", *fc.MaxSoFar, u, fc.Trend)
	}
	fmt.Printf("weights:       %s\n", fc.WeightSet.Summary(0))
	for _, m := range fc.WeightSet.Ranked() {
		if w, ok := fc.Weights[m]; ok {
			fmt.Printf("  %-12s %5.1f%%\n", m, w*100)
		}
	}
	if !fc.UpdatedAt.IsZero() {
		fmt.Printf("updated:       %s\n", humanize.Time(fc.UpdatedAt))
	}
}

func printDistribution(s *engine.Settlement) {
	d := s.Distribution
	u := s.Forecast.Unit
	peak := "predicted"
	if s.PeakDefault {
		peak = "default"
	}
	fmt.Printf("peak window:   %s-%s (%s), %s\n", s.Peak.Start.Format("15:04"), s.Peak.End.Format("15:04 MST"), peak, d.Phase)
	fmt.Printf("sigma:         %.3f (base %.3f)\n", d.Sigma, d.SigmaBase)
	if flags := d.Flags.Strings(); len(flags) > 0 {
		fmt.Printf("flags:         %s\n", strings.Join(flags, ", "))
	}
	fmt.Println(strings.Repeat("-", 40))
	for _, b := range d.Buckets {
		if b.Prob == 0 {
			continue
		}
		fmt.Printf("%4d°%s  %6.2f%%  %s\n", b.Value, u, b.Prob*100, strings.Repeat("#", int(b.Prob*40+0.5)))
	}
}
