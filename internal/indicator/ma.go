package indicator

import (
	"fmt"

	"crypto-signal-backend/internal/model"
)

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("sma: invalid period %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("sma: need %d values, have %d", period, len(values))
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// EMA returns the exponential moving average of the series, seeded with the
// SMA of the first period values.
func EMA(values []float64, period int) (float64, error) {
	series, err := EMASeries(values, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// EMASeries returns the full EMA series. Entries before index period-1 are
// zero; index period-1 holds the SMA seed.
func EMASeries(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("ema: invalid period %d", period)
	}
	if len(values) < period {
		return nil, fmt.Errorf("ema: need %d values, have %d", period, len(values))
	}

	out := make([]float64, len(values))
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	out[period-1] = sum / float64(period)

	mult := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*mult + out[i-1]
	}
	return out, nil
}

// EMAStack computes the short/medium/long EMA triple for the lookbacks.
func EMAStack(closes []float64, lb Lookbacks) (model.EMAStack, error) {
	var st model.EMAStack
	var err error
	if st.Short, err = EMA(closes, lb.Short); err != nil {
		return st, err
	}
	if st.Medium, err = EMA(closes, lb.Medium); err != nil {
		return st, err
	}
	if st.Long, err = EMA(closes, lb.Long); err != nil {
		return st, err
	}
	return st, nil
}

// SMAStack computes the short/medium/long SMA triple for the lookbacks.
func SMAStack(closes []float64, lb Lookbacks) (model.EMAStack, error) {
	var st model.EMAStack
	var err error
	if st.Short, err = SMA(closes, lb.Short); err != nil {
		return st, err
	}
	if st.Medium, err = SMA(closes, lb.Medium); err != nil {
		return st, err
	}
	if st.Long, err = SMA(closes, lb.Long); err != nil {
		return st, err
	}
	return st, nil
}
