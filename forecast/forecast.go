// Package forecast is the advisory price forecasting collaborator. It is
// stateless with respect to the contract lifecycle: predictions are context
// for a human deciding whether to lock in a forward price, nothing more.
package forecast

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"
)

// ErrUnknownCommodity is returned when no price history exists for the name.
var ErrUnknownCommodity = fmt.Errorf("no price data for commodity")

// PricePoint is one observed or predicted price.
type PricePoint struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// DailyForecast is one predicted day.
type DailyForecast struct {
	Date           string  `json:"date"`
	PredictedPrice float64 `json:"predicted_price"`
	Day            int     `json:"day"`
}

// Prediction is the full forecast response.
type Prediction struct {
	Commodity                  string          `json:"commodity"`
	CurrentPrice               float64         `json:"current_price"`
	ForecastPeriodDays         int             `json:"forecast_period_days"`
	Predictions                []DailyForecast `json:"predictions"`
	AverageForecastPrice       float64         `json:"average_forecast_price"`
	ExpectedPriceChange        float64         `json:"expected_price_change"`
	ExpectedPriceChangePercent float64         `json:"expected_price_change_percent"`
	Recommendation             string          `json:"recommendation"`
	LastUpdated                string          `json:"last_updated"`
}

type observation struct {
	date  time.Time
	price float64
}

// Model holds per-commodity price history loaded from CSV
// (date,commodity,price_per_quintal) and produces trend forecasts.
type Model struct {
	mu     sync.RWMutex
	series map[string][]observation
}

// Load reads a price history CSV from path.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price data: %w", err)
	}
	defer f.Close()

	m := &Model{}
	if err := m.ReloadFrom(f); err != nil {
		return nil, err
	}
	return m, nil
}

// ReloadFrom replaces the model's history with the CSV read from r.
// Expected header: date,commodity,price_per_quintal.
func (m *Model) ReloadFrom(r io.Reader) error {
	reader := csv.NewReader(r)
	rows, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to parse price CSV: %w", err)
	}
	if len(rows) < 2 {
		return fmt.Errorf("price CSV has no data rows")
	}

	series := make(map[string][]observation)
	for i, row := range rows[1:] {
		if len(row) < 3 {
			return fmt.Errorf("price CSV row %d has %d columns, want 3", i+2, len(row))
		}
		date, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			return fmt.Errorf("price CSV row %d: bad date %q", i+2, row[0])
		}
		price, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return fmt.Errorf("price CSV row %d: bad price %q", i+2, row[2])
		}
		series[row[1]] = append(series[row[1]], observation{date: date, price: price})
	}
	for _, obs := range series {
		sort.Slice(obs, func(i, j int) bool { return obs[i].date.Before(obs[j].date) })
	}

	m.mu.Lock()
	m.series = series
	m.mu.Unlock()
	return nil
}

// Predict forecasts the next days of prices for a commodity by least-squares
// trend extrapolation over the observed history, with the same advisory
// thresholds the platform has always used: a move beyond ±5% flips the
// recommendation.
func (m *Model) Predict(commodity string, days int) (*Prediction, error) {
	if days < 1 {
		return nil, fmt.Errorf("forecast days must be positive")
	}

	m.mu.RLock()
	obs := m.series[commodity]
	m.mu.RUnlock()
	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommodity, commodity)
	}

	slope, intercept := fitTrend(obs)
	n := len(obs)
	lastDate := obs[n-1].date
	currentPrice := obs[n-1].price

	predictions := make([]DailyForecast, days)
	var sum float64
	for i := 0; i < days; i++ {
		predicted := intercept + slope*float64(n+i)
		if predicted < 0 {
			predicted = 0
		}
		predicted = round2(predicted)
		sum += predicted
		predictions[i] = DailyForecast{
			Date:           lastDate.AddDate(0, 0, i+1).Format("2006-01-02"),
			PredictedPrice: predicted,
			Day:            i + 1,
		}
	}

	avg := sum / float64(days)
	change := avg - currentPrice
	changePct := 0.0
	if currentPrice != 0 {
		changePct = change / currentPrice * 100
	}

	return &Prediction{
		Commodity:                  commodity,
		CurrentPrice:               currentPrice,
		ForecastPeriodDays:         days,
		Predictions:                predictions,
		AverageForecastPrice:       round2(avg),
		ExpectedPriceChange:        round2(change),
		ExpectedPriceChangePercent: round2(changePct),
		Recommendation:             recommendation(changePct),
		LastUpdated:                time.Now().Format("2006-01-02 15:04:05"),
	}, nil
}

// Historical returns the most recent observations for a commodity, oldest
// first.
func (m *Model) Historical(commodity string, days int) ([]PricePoint, error) {
	m.mu.RLock()
	obs := m.series[commodity]
	m.mu.RUnlock()
	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommodity, commodity)
	}

	if days > 0 && days < len(obs) {
		obs = obs[len(obs)-days:]
	}
	out := make([]PricePoint, len(obs))
	for i, o := range obs {
		out[i] = PricePoint{Date: o.date.Format("2006-01-02"), Price: o.price}
	}
	return out, nil
}

// Commodities lists the commodity names with loaded history.
func (m *Model) Commodities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.series))
	for name := range m.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fitTrend runs ordinary least squares over (index, price).
func fitTrend(obs []observation) (slope, intercept float64) {
	n := float64(len(obs))
	if len(obs) == 1 {
		return 0, obs[0].price
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, o := range obs {
		x := float64(i)
		sumX += x
		sumY += o.price
		sumXY += x * o.price
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func recommendation(changePct float64) string {
	switch {
	case changePct > 5:
		return "BULLISH - Prices expected to rise. Good time for farmers to create forward contracts."
	case changePct < -5:
		return "BEARISH - Prices expected to fall. Good time for buyers to lock in contracts."
	default:
		return "NEUTRAL - Stable prices expected. Consider waiting or hedging moderately."
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
