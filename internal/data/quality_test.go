package data

import (
	"crypto-signal-bot/internal/model"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bar(hour int, c float64) model.KLine {
	start := t0.Add(time.Duration(hour) * time.Hour)
	return model.KLine{
		Symbol: "BTC/USDT", Interval: "1h",
		Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 5,
		StartTime: start, EndTime: start.Add(time.Hour - time.Millisecond),
	}
}

func TestValidateBarsSortsAndDedups(t *testing.T) {
	dup := bar(1, 200)
	in := []model.KLine{bar(2, 102), bar(0, 100), bar(1, 101), dup}

	ok, out := ValidateBars(in)
	assert.True(t, ok)
	assert.Len(t, out, 3)
	assert.Equal(t, 100.0, out[0].Close)
	assert.Equal(t, 200.0, out[1].Close, "duplicate timestamp keeps the last bar")
	assert.Equal(t, 102.0, out[2].Close)
	assert.Equal(t, 102.0, in[0].Close, "input untouched")
}

func TestValidateBarsDropsNonFinite(t *testing.T) {
	nan := bar(1, 101)
	nan.Close = math.NaN()
	inf := bar(2, 102)
	inf.Volume = math.Inf(1)

	ok, out := ValidateBars([]model.KLine{bar(0, 100), nan, inf, bar(3, 103)})
	assert.True(t, ok)
	assert.Len(t, out, 2)
}

func TestValidateBarsRejects(t *testing.T) {
	ok, out := ValidateBars(nil)
	assert.False(t, ok)
	assert.Empty(t, out)

	zero := bar(1, 101)
	zero.Low = 0
	ok, _ = ValidateBars([]model.KLine{bar(0, 100), zero})
	assert.False(t, ok)

	negVol := bar(1, 101)
	negVol.Volume = -1
	ok, _ = ValidateBars([]model.KLine{negVol})
	assert.False(t, ok)

	badHigh := bar(1, 101)
	badHigh.High = 100.5 // 低于 Close
	ok, _ = ValidateBars([]model.KLine{badHigh})
	assert.False(t, ok)

	badLow := bar(1, 101)
	badLow.Low = 101.5 // 高于 Open
	badLow.High = 102
	ok, _ = ValidateBars([]model.KLine{badLow})
	assert.False(t, ok)
}
