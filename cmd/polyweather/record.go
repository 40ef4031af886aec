package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dantezy/polyweather/internal/engine"
	"github.com/dantezy/polyweather/internal/store"
	"github.com/dantezy/polyweather/internal/weather"
)

var (
	observeCurrent float64
	observeFinal   bool
	keepDays       int
)

var forecastCmd = &cobra.Command{
	Use:   "forecast <city> <model> <high>",
	Short: "Record a model's forecast high",
	Long:  `Stores one model's forecast daily high for a city. Models: ecmwf, gfs, icon, gem, jma, open-meteo, meteoblue, nws.`,
	Args:  cobra.ExactArgs(3),
	RunE:  runForecast,
}

var observeCmd = &cobra.Command{
	Use:   "observe <city> <max-so-far>",
	Short: "Record the station's running maximum",
	Long:  `Raises the observed maximum for the day. A value below the stored maximum is rejected.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runObserve,
}

var ensembleCmd = &cobra.Command{
	Use:   "ensemble <city> <median> <p10> <p90>",
	Short: "Record the ensemble summary for the day",
	Args:  cobra.ExactArgs(4),
	RunE:  runEnsemble,
}

var peakCmd = &cobra.Command{
	Use:   "peak <city> <start HH:MM> <end HH:MM>",
	Short: "Record the predicted peak-heating window (city local time)",
	Args:  cobra.ExactArgs(3),
	RunE:  runPeak,
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize [city]",
	Short: "Mark days as settled",
	Long: `With a city, finalizes that city's --date (default yesterday). Without one,
finalizes every open past day for all cities and prunes records older than --keep days.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFinalize,
}

func init() {
	for _, c := range []*cobra.Command{forecastCmd, observeCmd, ensembleCmd, peakCmd, finalizeCmd} {
		addDateFlag(c)
		rootCmd.AddCommand(c)
	}
	observeCmd.Flags().Float64Var(&observeCurrent, "current", 0, "latest reading, if different from the maximum")
	observeCmd.Flags().BoolVar(&observeFinal, "final", false, "the station has reported its final daily high")
	finalizeCmd.Flags().IntVar(&keepDays, "keep", 0, "retention in days for the sweep (default RETENTION_DAYS)")
}

func runForecast(cmd *cobra.Command, args []string) error {
	model, err := weather.ParseModel(args[1])
	if err != nil {
		return err
	}
	high, err := parseTemp(args[2])
	if err != nil {
		return err
	}
	return withEngine(func(ctx context.Context, eng *engine.Engine) error {
		date, err := resolveDate(eng, args[0])
		if err != nil {
			return err
		}
		rec, err := eng.RecordForecast(ctx, args[0], date, model, high)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s: %s = %.1f (%d models)\n", rec.City, rec.Date, model, high, rec.Forecasts.Len())
		return nil
	})
}

func runObserve(cmd *cobra.Command, args []string) error {
	peak, err := parseTemp(args[1])
	if err != nil {
		return err
	}
	obs := store.ObservationUpdate{MaxSoFar: peak, Final: observeFinal}
	if cmd.Flags().Changed("current") {
		cur := observeCurrent
		obs.Current = &cur
	}
	return withEngine(func(ctx context.Context, eng *engine.Engine) error {
		date, err := resolveDate(eng, args[0])
		if err != nil {
			return err
		}
		rec, err := eng.RecordObservation(ctx, args[0], date, obs)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s: max so far %.1f, trend %s\n", rec.City, rec.Date, *rec.MaxSoFar, weather.TrendOf(rec.RecentTemps(3)))
		return nil
	})
}

func runEnsemble(cmd *cobra.Command, args []string) error {
	var vals [3]float64
	for i, a := range args[1:] {
		v, err := parseTemp(a)
		if err != nil {
			return err
		}
		vals[i] = v
	}
	ens := weather.EnsembleSample{Median: vals[0], P10: vals[1], P90: vals[2]}
	return withEngine(func(ctx context.Context, eng *engine.Engine) error {
		date, err := resolveDate(eng, args[0])
		if err != nil {
			return err
		}
		rec, err := eng.RecordEnsemble(ctx, args[0], date, ens)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s: ensemble median %.1f, σ %.2f\n", rec.City, rec.Date, ens.Median, weather.SigmaFromEnsemble(&ens))
		return nil
	})
}

func runPeak(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine.Engine) error {
		loc, err := eng.Resolve(args[0])
		if err != nil {
			return err
		}
		date, err := resolveDate(eng, args[0])
		if err != nil {
			return err
		}
		day := date.Time(loc.TZ())
		start, err := clockOn(day, args[1])
		if err != nil {
			return err
		}
		end, err := clockOn(day, args[2])
		if err != nil {
			return err
		}
		rec, err := eng.RecordPeak(ctx, args[0], date, weather.PeakWindow{Start: start, End: end})
		if err != nil {
			return err
		}
		fmt.Printf("%s %s: peak %s-%s\n", rec.City, rec.Date, start.Format("15:04"), end.Format("15:04 MST"))
		return nil
	})
}

func runFinalize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	eng, st, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 1 {
		var date weather.Date
		if dateFlag == "" {
			today, err := eng.Today(args[0], time.Now())
			if err != nil {
				return err
			}
			date = today.AddDays(-1)
		} else if date, err = weather.ParseDate(dateFlag); err != nil {
			return err
		}
		rec, err := eng.Finalize(ctx, args[0], date)
		if err != nil {
			return err
		}
		if actual, ok := rec.Actual(); ok {
			fmt.Printf("%s %s finalized, settled at %d (max %.1f)\n", rec.City, rec.Date, weather.SettleValue(actual), actual)
		} else {
			fmt.Printf("%s %s finalized without an observation\n", rec.City, rec.Date)
		}
		return nil
	}

	keep := cfg.RetentionDays
	if cmd.Flags().Changed("keep") {
		keep = keepDays
	}
	res, err := eng.Sweep(ctx, time.Now(), keep)
	if err != nil {
		return err
	}
	total := 0
	for city, n := range res.Finalized {
		fmt.Printf("%-14s %d day(s) finalized\n", city, n)
		total += n
	}
	fmt.Printf("finalized %s day(s), pruned %s record(s)\n", humanize.Comma(int64(total)), humanize.Comma(res.Pruned))
	return nil
}

func parseTemp(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid temperature %q: %w", s, err)
	}
	return v, nil
}

// clockOn places an HH:MM wall-clock time on day.
func clockOn(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want HH:MM", hhmm)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
