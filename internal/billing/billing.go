// Package billing computes the terminal figures of a session.
package billing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ActualMinutes rounds elapsed wall time to the nearest whole minute.
// Negative elapsed time (clock skew) counts as zero.
func ActualMinutes(elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	return int(math.Round(elapsed.Minutes()))
}

// Cost is minutes/60 x costPerHour rounded to two places. Free mode or a
// non-positive rate always costs zero.
func Cost(freeMode bool, costPerHour float64, minutes int) float64 {
	if freeMode || costPerHour <= 0 || minutes <= 0 {
		return 0
	}
	cost := decimal.NewFromInt(int64(minutes)).
		Mul(decimal.NewFromFloat(costPerHour)).
		Div(decimal.NewFromInt(60)).
		Round(2)
	f, _ := cost.Float64()
	return f
}

// Tariff is the rate in force for a session.
type Tariff struct {
	FreeMode    bool
	CostPerHour float64
}

// Charge is what a policy bills for a finished session.
type Charge struct {
	ActualMinutes int
	Cost          float64
}

// Policy turns an elapsed interval and a tariff into a Charge.
type Policy interface {
	Charge(elapsed time.Duration, current Tariff) Charge
}

// SingleTariffAtStop bills the whole elapsed time at the tariff in force when
// the session stops. Mid-session tariff changes are not split.
type SingleTariffAtStop struct{}

func (SingleTariffAtStop) Charge(elapsed time.Duration, current Tariff) Charge {
	minutes := ActualMinutes(elapsed)
	return Charge{
		ActualMinutes: minutes,
		Cost:          Cost(current.FreeMode, current.CostPerHour, minutes),
	}
}
