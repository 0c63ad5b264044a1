package astronomy

import (
	"errors"
	"testing"
	"time"

	"github.com/hebcal/hdate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "time/tzdata"

	"vest_tracker/internal/domain/onah"
)

var (
	jerusalem = onah.Location{Latitude: 31.778, Longitude: 35.235, TimezoneID: "Asia/Jerusalem"}
	auckland  = onah.Location{Latitude: -36.848, Longitude: 174.763, TimezoneID: "Pacific/Auckland"}
	tromso    = onah.Location{Latitude: 69.649, Longitude: 18.955, TimezoneID: "Europe/Oslo"}
)

func civil(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSunEventsFallOnRequestedDate(t *testing.T) {
	p := New()
	for _, loc := range []onah.Location{jerusalem, auckland} {
		tz, err := loc.TimeZone()
		require.NoError(t, err)
		d := civil(2025, time.January, 1)

		rise, err := p.Sunrise(d, loc)
		require.NoError(t, err)
		set, err := p.Sunset(d, loc)
		require.NoError(t, err)

		assert.Equal(t, d, onah.CivilDate(rise, tz), loc.TimezoneID)
		assert.Equal(t, d, onah.CivilDate(set, tz), loc.TimezoneID)
		assert.True(t, rise.Before(set), loc.TimezoneID)
		assert.Equal(t, tz, rise.Location())
	}
}

func TestSunriseJerusalemWinter(t *testing.T) {
	rise, err := New().Sunrise(civil(2025, time.January, 1), jerusalem)
	require.NoError(t, err)
	assert.Equal(t, 6, rise.Hour())
}

func TestPolarNight(t *testing.T) {
	_, err := New().Sunrise(civil(2024, time.December, 21), tromso)

	var nse *NoSunEventError
	require.True(t, errors.As(err, &nse))
	assert.Equal(t, "sunrise", nse.Event)
}

func TestCalendarLabelChangesAtSunset(t *testing.T) {
	p := New()
	tz, err := jerusalem.TimeZone()
	require.NoError(t, err)

	noon, err := p.CalendarLabel(time.Date(2025, time.January, 1, 12, 0, 0, 0, tz), jerusalem)
	require.NoError(t, err)
	assert.Equal(t, 5785, noon.Year)
	assert.Equal(t, int(hdate.Tevet), noon.Month)
	assert.Equal(t, 1, noon.Day)
	assert.NotEmpty(t, noon.Name)

	evening, err := p.CalendarLabel(time.Date(2025, time.January, 1, 21, 0, 0, 0, tz), jerusalem)
	require.NoError(t, err)
	assert.Equal(t, 2, evening.Day)
}

func TestAddLunarMonths(t *testing.T) {
	p := New()
	tests := []struct {
		name string
		from onah.LunarDate
		n    int
		want onah.LunarDate
	}{
		{"simple", onah.LunarDate{Year: 5785, Month: int(hdate.Tevet), Day: 1}, 1, onah.LunarDate{Year: 5785, Month: int(hdate.Shvat), Day: 1}},
		{"elul to tishrei", onah.LunarDate{Year: 5784, Month: int(hdate.Elul), Day: 10}, 1, onah.LunarDate{Year: 5785, Month: int(hdate.Tishrei), Day: 10}},
		{"adar in leap year", onah.LunarDate{Year: 5784, Month: int(hdate.Adar1), Day: 5}, 1, onah.LunarDate{Year: 5784, Month: int(hdate.Adar2), Day: 5}},
		{"adar in common year", onah.LunarDate{Year: 5785, Month: int(hdate.Adar1), Day: 5}, 1, onah.LunarDate{Year: 5785, Month: int(hdate.Nisan), Day: 5}},
		{"day 30 rolls over", onah.LunarDate{Year: 5785, Month: int(hdate.Kislev), Day: 30}, 1, onah.LunarDate{Year: 5785, Month: int(hdate.Shvat), Day: 1}},
		{"backwards over adar II", onah.LunarDate{Year: 5784, Month: int(hdate.Nisan), Day: 3}, -1, onah.LunarDate{Year: 5784, Month: int(hdate.Adar2), Day: 3}},
		{"backwards over tishrei", onah.LunarDate{Year: 5785, Month: int(hdate.Tishrei), Day: 3}, -1, onah.LunarDate{Year: 5784, Month: int(hdate.Elul), Day: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.AddLunarMonths(tt.from, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Year, got.Year)
			assert.Equal(t, tt.want.Month, got.Month)
			assert.Equal(t, tt.want.Day, got.Day)
		})
	}

	_, err := p.AddLunarMonths(onah.LunarDate{Year: 5785, Month: 14, Day: 1}, 1)
	assert.Error(t, err)
}

func TestCivilDate(t *testing.T) {
	got, err := New().CivilDate(onah.LunarDate{Year: 5785, Month: int(hdate.Shvat), Day: 1}, jerusalem)
	require.NoError(t, err)
	assert.Equal(t, civil(2025, time.January, 30), got)
}

func TestResolverWithProvider(t *testing.T) {
	r := onah.NewResolver(New())

	p, err := r.Resolve(civil(2025, time.January, 1), jerusalem, false)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Lunar.Day, "a night onah carries the next Hebrew date")

	isDay, err := r.Classify(p.Start, p.End, jerusalem)
	require.NoError(t, err)
	assert.False(t, isDay)

	next, err := r.AddLunarMonths(p.Lunar, 1)
	require.NoError(t, err)
	monthly, err := r.ResolveLunar(next, jerusalem, false)
	require.NoError(t, err)
	assert.True(t, monthly.Start.After(p.End))
}
