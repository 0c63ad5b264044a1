package onah_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vest_tracker/internal/domain/onah"
	"vest_tracker/internal/testutil/fakeastro"
)

var jerusalem = onah.Location{Latitude: 31.778, Longitude: 35.235, TimezoneID: "Asia/Jerusalem"}

func newResolver() *onah.Resolver {
	return onah.NewResolver(fakeastro.New())
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolve_DayOnah(t *testing.T) {
	r := newResolver()
	tz, _ := jerusalem.TimeZone()

	p, err := r.Resolve(date(2025, time.January, 1), jerusalem, true)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, time.January, 1, 6, 0, 0, 0, tz), p.Start.In(tz))
	assert.Equal(t, time.Date(2025, time.January, 1, 18, 0, 0, 0, tz), p.End.In(tz))
	assert.Equal(t, time.Wednesday, p.Weekday)
	assert.Equal(t, fakeastro.Label(date(2025, time.January, 1)), p.Lunar)
	assert.Equal(t, p.Lunar.String(), p.CalendarLabel)
}

func TestResolve_NightOnahSpansTwoCivilDays(t *testing.T) {
	r := newResolver()
	tz, _ := jerusalem.TimeZone()

	p, err := r.Resolve(date(2025, time.January, 1), jerusalem, false)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, time.January, 1, 18, 0, 0, 0, tz), p.Start.In(tz))
	assert.Equal(t, time.Date(2025, time.January, 2, 6, 0, 0, 0, tz), p.End.In(tz))
	// the lunar day begins at sunset
	assert.Equal(t, fakeastro.Label(date(2025, time.January, 2)), p.Lunar)
}

func TestResolve_IgnoresTimeOfDayInDate(t *testing.T) {
	r := newResolver()

	a, err := r.Resolve(time.Date(2025, time.March, 3, 23, 59, 0, 0, time.UTC), jerusalem, true)
	require.NoError(t, err)
	b, err := r.Resolve(date(2025, time.March, 3), jerusalem, true)
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
}

func TestClassify_Symmetry(t *testing.T) {
	r := newResolver()
	locations := []onah.Location{
		jerusalem,
		{Latitude: 40.71, Longitude: -74.0, TimezoneID: "America/New_York"},
		{Latitude: -33.86, Longitude: 151.2, TimezoneID: "Australia/Sydney"},
		{Latitude: 0, Longitude: 0, TimezoneID: "UTC"},
	}

	start := date(2024, time.December, 25)
	for _, loc := range locations {
		for i := 0; i < 120; i++ {
			d := onah.AddDays(start, i)

			day, err := r.Resolve(d, loc, true)
			require.NoError(t, err)
			isDay, err := r.Classify(day.Start, day.End, loc)
			require.NoError(t, err)
			assert.True(t, isDay, "day onah of %s at %s", d.Format(time.DateOnly), loc.TimezoneID)

			night, err := r.Resolve(d, loc, false)
			require.NoError(t, err)
			isDay, err = r.Classify(night.Start, night.End, loc)
			require.NoError(t, err)
			assert.False(t, isDay, "night onah of %s at %s", d.Format(time.DateOnly), loc.TimezoneID)
		}
	}
}

func TestResolve_InvalidLocation(t *testing.T) {
	r := newResolver()

	tests := []struct {
		name  string
		loc   onah.Location
		field string
	}{
		{"latitude too high", onah.Location{Latitude: 91, Longitude: 0, TimezoneID: "UTC"}, "latitude"},
		{"latitude too low", onah.Location{Latitude: -90.5, Longitude: 0, TimezoneID: "UTC"}, "latitude"},
		{"longitude out of range", onah.Location{Latitude: 0, Longitude: 181, TimezoneID: "UTC"}, "longitude"},
		{"latitude not a number", onah.Location{Latitude: math.NaN(), Longitude: 0, TimezoneID: "UTC"}, "latitude"},
		{"longitude not a number", onah.Location{Latitude: 0, Longitude: math.NaN(), TimezoneID: "UTC"}, "longitude"},
		{"unknown zone", onah.Location{Latitude: 0, Longitude: 0, TimezoneID: "Mars/Olympus_Mons"}, "timezone"},
		{"empty zone", onah.Location{Latitude: 0, Longitude: 0}, "timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := r.Resolve(date(2025, time.January, 1), tt.loc, true)
			require.Error(t, err)
			assert.Equal(t, onah.Period{}, p)

			var locErr *onah.LocationError
			require.True(t, errors.As(err, &locErr))
			assert.Equal(t, tt.field, locErr.Field)
		})
	}
}

func TestResolveLunar_NightStartsEveningBefore(t *testing.T) {
	r := newResolver()
	tz, _ := jerusalem.TimeZone()
	label := fakeastro.Label(date(2025, time.January, 30))

	day, err := r.ResolveLunar(label, jerusalem, true)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 30), onah.CivilDate(day.Start, tz))

	night, err := r.ResolveLunar(label, jerusalem, false)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 29), onah.CivilDate(night.Start, tz))
	assert.Equal(t, label, night.Lunar)
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 0, onah.DaysBetween(date(2025, time.January, 1), time.Date(2025, time.January, 1, 20, 0, 0, 0, time.UTC)))
	assert.Equal(t, 29, onah.DaysBetween(date(2025, time.January, 1), date(2025, time.January, 30)))
	assert.Equal(t, -1, onah.DaysBetween(date(2025, time.March, 1), date(2025, time.February, 28)))
	assert.Equal(t, 366, onah.DaysBetween(date(2024, time.January, 1), date(2025, time.January, 1)))
}
