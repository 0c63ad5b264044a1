// Package fakeastro provides a deterministic onah.Astronomy for tests.
//
// Sunrise is always 06:00 and sunset 18:00 local time. The lunar calendar is
// synthetic: twelve 30-day months per year, counted from 2000-01-01, which is
// day 1 of month 1 of year 5760.
package fakeastro

import (
	"fmt"
	"time"

	_ "time/tzdata"

	"vest_tracker/internal/domain/onah"
)

const (
	SunriseHour = 6
	SunsetHour  = 18

	epochYear     = 5760
	daysPerMonth  = 30
	monthsPerYear = 12
)

var epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

type Astronomy struct{}

func New() *Astronomy {
	return &Astronomy{}
}

func (a *Astronomy) Sunrise(date time.Time, loc onah.Location) (time.Time, error) {
	return at(date, loc, SunriseHour)
}

func (a *Astronomy) Sunset(date time.Time, loc onah.Location) (time.Time, error) {
	return at(date, loc, SunsetHour)
}

func (a *Astronomy) CalendarLabel(instant time.Time, loc onah.Location) (onah.LunarDate, error) {
	tz, err := loc.TimeZone()
	if err != nil {
		return onah.LunarDate{}, err
	}
	d := onah.CivilDate(instant, tz)
	sunset, err := at(d, loc, SunsetHour)
	if err != nil {
		return onah.LunarDate{}, err
	}
	if !instant.Before(sunset) {
		d = onah.AddDays(d, 1)
	}
	return Label(d), nil
}

func (a *Astronomy) AddLunarMonths(d onah.LunarDate, n int) (onah.LunarDate, error) {
	if d.Month < 1 || d.Month > monthsPerYear {
		return onah.LunarDate{}, fmt.Errorf("month %d out of range", d.Month)
	}
	total := d.Month - 1 + n
	years := floorDiv(total, monthsPerYear)
	return named(onah.LunarDate{
		Year:  d.Year + years,
		Month: total - years*monthsPerYear + 1,
		Day:   d.Day,
	}), nil
}

func (a *Astronomy) CivilDate(d onah.LunarDate, _ onah.Location) (time.Time, error) {
	n := (d.Year-epochYear)*monthsPerYear*daysPerMonth + (d.Month-1)*daysPerMonth + d.Day - 1
	return epoch.AddDate(0, 0, n), nil
}

// Label returns the synthetic lunar date whose daytime falls on a civil date.
func Label(date time.Time) onah.LunarDate {
	n := onah.DaysBetween(epoch, date)
	perYear := monthsPerYear * daysPerMonth
	years := floorDiv(n, perYear)
	rem := n - years*perYear
	return named(onah.LunarDate{
		Year:  epochYear + years,
		Month: rem/daysPerMonth + 1,
		Day:   rem%daysPerMonth + 1,
	})
}

func named(d onah.LunarDate) onah.LunarDate {
	d.Name = fmt.Sprintf("%d/%d/%d", d.Day, d.Month, d.Year)
	return d
}

func at(date time.Time, loc onah.Location, hour int) (time.Time, error) {
	tz, err := loc.TimeZone()
	if err != nil {
		return time.Time{}, err
	}
	d := onah.Date(date)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, tz), nil
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
