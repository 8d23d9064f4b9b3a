package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"fx-rate-alerts/internal/rates"
)

type exportPoint struct {
	obs         rates.Observation
	trailingAvg decimal.Decimal
}

// Export renders historical observations as CSV and/or PNG, with the trailing
// average overlaid.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := rates.Day(time.Now())
	if opts.To != nil {
		to = rates.Day(*opts.To)
	}

	from := to.AddDate(-a.Config.Average.WindowYears, 0, 0)
	if opts.From != nil {
		from = rates.Day(*opts.From)
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	// Load one extra window before the range so the first points still have
	// a full trailing average behind them.
	observations, err := store.ListObservationsBetween(ctx, from.AddDate(-a.Config.Average.WindowYears, 0, 0), to)
	if err != nil {
		return err
	}

	points := trailingAverages(observations, a.Config.Average.WindowYears, from)
	if len(points) == 0 {
		a.Logger.Info().Msg("no observations found for export window")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := a.writePointsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// trailingAverages computes, for every observation on or after from, the mean
// of all observations in its trailing window. Two cursors over the ascending
// series keep it linear.
func trailingAverages(observations []rates.Observation, windowYears int, from time.Time) []exportPoint {
	points := make([]exportPoint, 0, len(observations))
	sum := decimal.Zero
	tail := 0

	for i, obs := range observations {
		sum = sum.Add(obs.Rate)
		windowStart := obs.Date.AddDate(-windowYears, 0, 0)
		for observations[tail].Date.Before(windowStart) {
			sum = sum.Sub(observations[tail].Rate)
			tail++
		}
		if obs.Date.Before(from) {
			continue
		}
		count := decimal.NewFromInt(int64(i - tail + 1))
		points = append(points, exportPoint{obs: obs, trailingAvg: sum.Div(count)})
	}

	return points
}

func downsamplePoints(points []exportPoint, max int) []exportPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]exportPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePointsCSV(path string, points []exportPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"obs_date", "rate", "trailing_avg"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, point := range points {
		record := []string{
			point.obs.Date.Format("2006-01-02"),
			point.obs.Rate.String(),
			point.trailingAvg.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func (a *App) writePointsPNG(path string, points []exportPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	rate := make([]float64, len(points))
	avg := make([]float64, len(points))

	for i, point := range points {
		x[i] = point.obs.Date
		rate[i] = point.obs.Rate.InexactFloat64()
		avg[i] = point.trailingAvg.InexactFloat64()
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rate (" + a.Config.Provider.Target + "/" + a.Config.Provider.Base + ")",
			ValueFormatter: rateFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Rate",
				XValues: x,
				YValues: rate,
			},
			chart.TimeSeries{
				Name:    "Trailing average",
				XValues: x,
				YValues: avg,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
