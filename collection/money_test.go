package collection_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/collection-engine/collection"
)

// =============================================================================
// MONEY
// =============================================================================

func TestMoney_ParseAndFormat(t *testing.T) {
	m, err := collection.ParseMoney("1100.50")
	require.NoError(t, err)
	assert.Equal(t, collection.Money(110050), m)
	assert.Equal(t, "1100.50", m.String())

	// Sub-minor input is rounded half away from zero.
	m, err = collection.ParseMoney("0.005")
	require.NoError(t, err)
	assert.Equal(t, collection.Money(1), m)

	_, err = collection.ParseMoney("ten")
	assert.Error(t, err)

	assert.Equal(t, collection.Money(-250), collection.MoneyFromDecimal(decimal.RequireFromString("-2.5")))
	assert.True(t, collection.Major(3).Decimal().Equal(decimal.NewFromInt(3)))
}

func TestMoney_JSONIsMinorUnits(t *testing.T) {
	var v struct {
		Amount collection.Money `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount": 110000}`), &v))
	assert.Equal(t, collection.Major(1100), v.Amount)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount": 110000}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"amount": 10.5}`), &v), "fractional minor units are rejected")
	assert.Error(t, json.Unmarshal([]byte(`{"amount": "abc"}`), &v))
}

func TestMoney_Helpers(t *testing.T) {
	assert.Equal(t, collection.Money(600), collection.SumMoney(100, 200, 300))
	assert.Equal(t, collection.Money(0), collection.SumMoney())
	assert.Equal(t, collection.Money(3), collection.Money(3).Min(7))
	assert.True(t, collection.Money(1).IsPositive())
	assert.True(t, collection.Money(0).IsZero())
}

// =============================================================================
// DAY & YEARMONTH
// =============================================================================

func TestDay_ParseAndText(t *testing.T) {
	d, err := collection.ParseDay("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, 2024, d.Year())
	assert.Equal(t, time.February, d.Month())
	assert.Equal(t, 29, d.Date())

	_, err = collection.ParseDay("2023-02-29")
	assert.Error(t, err)
	_, err = collection.ParseDay("29/02/2024")
	assert.Error(t, err)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", string(text))

	var back collection.Day
	require.NoError(t, back.UnmarshalText(text))
	assert.True(t, back.Equal(d))
}

func TestDay_AddMonthsClamped(t *testing.T) {
	jan31 := collection.NewDay(2023, time.January, 31)
	assert.Equal(t, "2023-02-28", jan31.AddMonthsClamped(1).String())
	assert.Equal(t, "2023-04-30", jan31.AddMonthsClamped(3).String())
	assert.Equal(t, "2024-01-31", jan31.AddMonthsClamped(12).String())
	assert.Equal(t, "2022-12-31", jan31.AddMonthsClamped(-1).String())
}

func TestDayOf_UsesTimesLocation(t *testing.T) {
	tz := time.FixedZone("IST", 5*3600+1800)
	instant := time.Date(2024, time.March, 31, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, "2024-03-31", collection.DayOf(instant).String())
	assert.Equal(t, "2024-04-01", collection.DayOf(instant.In(tz)).String())
}

func TestYearMonth_CrossesYears(t *testing.T) {
	jan := collection.YearMonth{Year: 2024, Month: time.January}
	assert.Equal(t, collection.YearMonth{Year: 2023, Month: time.December}, jan.AddMonths(-1))
	assert.Equal(t, collection.YearMonth{Year: 2025, Month: time.January}, jan.AddMonths(12))
	assert.Equal(t, "2023-11", jan.AddMonths(-2).String())
	assert.NotEqual(t, collection.YearMonthOf(at(2023, time.December, 5, 0)), collection.YearMonthOf(at(2024, time.December, 5, 0)))
}
