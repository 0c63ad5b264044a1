// internal/infra/astronomy/provider.go
package astronomy

import (
	"fmt"
	"time"

	"github.com/hebcal/hdate"
	sunrise "github.com/nathan-osman/go-sunrise"

	"vest_tracker/internal/domain/onah"
)

// NoSunEventError is returned for dates on which the sun does not rise or
// set at the location (polar day or night).
type NoSunEventError struct {
	Event    string
	Date     time.Time
	Location onah.Location
}

func (e *NoSunEventError) Error() string {
	return fmt.Sprintf("no %s on %s at %.4f,%.4f", e.Event, e.Date.Format(time.DateOnly), e.Location.Latitude, e.Location.Longitude)
}

// Provider computes sun events with go-sunrise and Hebrew dates with hdate.
type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Sunrise(date time.Time, loc onah.Location) (time.Time, error) {
	return p.event(date, loc, "sunrise", func(rise, _ time.Time) time.Time { return rise })
}

func (p *Provider) Sunset(date time.Time, loc onah.Location) (time.Time, error) {
	return p.event(date, loc, "sunset", func(_, set time.Time) time.Time { return set })
}

// event finds the sun event falling on the local civil date. go-sunrise works
// on UTC days, so far from Greenwich the event can land on a neighbouring
// local date and the UTC day is shifted once to compensate.
func (p *Provider) event(date time.Time, loc onah.Location, name string, pick func(rise, set time.Time) time.Time) (time.Time, error) {
	tz, err := loc.TimeZone()
	if err != nil {
		return time.Time{}, err
	}
	d := onah.Date(date)
	at := func(day time.Time) time.Time {
		return pick(sunrise.SunriseSunset(loc.Latitude, loc.Longitude, day.Year(), day.Month(), day.Day()))
	}

	t := at(d)
	if t.IsZero() {
		return time.Time{}, &NoSunEventError{Event: name, Date: d, Location: loc}
	}
	switch shift := onah.DaysBetween(onah.CivilDate(t, tz), d); {
	case shift > 0:
		t = at(onah.AddDays(d, 1))
	case shift < 0:
		t = at(onah.AddDays(d, -1))
	}
	if t.IsZero() {
		return time.Time{}, &NoSunEventError{Event: name, Date: d, Location: loc}
	}
	return t.In(tz), nil
}

// CalendarLabel returns the Hebrew date of instant. The Hebrew day begins at
// sunset, so instants at or after the local sunset belong to the next date.
func (p *Provider) CalendarLabel(instant time.Time, loc onah.Location) (onah.LunarDate, error) {
	tz, err := loc.TimeZone()
	if err != nil {
		return onah.LunarDate{}, err
	}
	d := onah.CivilDate(instant, tz)
	sunset, err := p.Sunset(d, loc)
	if err != nil {
		return onah.LunarDate{}, err
	}
	if !instant.Before(sunset) {
		d = onah.AddDays(d, 1)
	}
	return toLunar(hdate.FromGregorian(d.Year(), d.Month(), d.Day())), nil
}

// AddLunarMonths moves d by n Hebrew months, keeping the day of month. Adar
// of a common year maps to Adar II of a leap year, and a day 30 that does not
// exist in the target month rolls to the 1st of the month after.
func (p *Provider) AddLunarMonths(d onah.LunarDate, n int) (onah.LunarDate, error) {
	if d.Month < int(hdate.Nisan) || d.Month > int(hdate.Adar2) {
		return onah.LunarDate{}, fmt.Errorf("hebrew month %d out of range", d.Month)
	}
	if d.Day < 1 || d.Day > 30 {
		return onah.LunarDate{}, fmt.Errorf("hebrew day %d out of range", d.Day)
	}
	year, month := d.Year, hdate.HMonth(d.Month)
	if month == hdate.Adar2 && !hdate.IsLeapYear(year) {
		month = hdate.Adar1
	}
	for ; n > 0; n-- {
		year, month = nextMonth(year, month)
	}
	for ; n < 0; n++ {
		year, month = prevMonth(year, month)
	}

	day := d.Day
	if day > hdate.DaysInMonth(month, year) {
		year, month = nextMonth(year, month)
		day = 1
	}
	return toLunar(hdate.New(year, month, day)), nil
}

// CivilDate returns the Gregorian date whose daytime carries d.
func (p *Provider) CivilDate(d onah.LunarDate, _ onah.Location) (time.Time, error) {
	if d.Month < int(hdate.Nisan) || d.Month > int(hdate.Adar2) {
		return time.Time{}, fmt.Errorf("hebrew month %d out of range", d.Month)
	}
	return onah.Date(hdate.New(d.Year, hdate.HMonth(d.Month), d.Day).Gregorian()), nil
}

// nextMonth steps through the year in calendar order: Tishrei starts the
// year, Elul ends it, and Nisan follows Adar (or Adar II in a leap year).
func nextMonth(year int, m hdate.HMonth) (int, hdate.HMonth) {
	switch m {
	case hdate.Elul:
		return year + 1, hdate.Tishrei
	case hdate.Adar1:
		if hdate.IsLeapYear(year) {
			return year, hdate.Adar2
		}
		return year, hdate.Nisan
	case hdate.Adar2:
		return year, hdate.Nisan
	default:
		return year, m + 1
	}
}

func prevMonth(year int, m hdate.HMonth) (int, hdate.HMonth) {
	switch m {
	case hdate.Tishrei:
		return year - 1, hdate.Elul
	case hdate.Nisan:
		if hdate.IsLeapYear(year) {
			return year, hdate.Adar2
		}
		return year, hdate.Adar1
	default:
		return year, m - 1
	}
}

func toLunar(hd hdate.HDate) onah.LunarDate {
	return onah.LunarDate{
		Year:  hd.Year(),
		Month: int(hd.Month()),
		Day:   hd.Day(),
		Name:  hd.String(),
	}
}
