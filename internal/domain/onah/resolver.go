package onah

import (
	"fmt"
	"time"
)

// Resolver maps civil dates to onah periods. It holds no state of its own
// and is safe for concurrent use.
type Resolver struct {
	astro Astronomy
}

func NewResolver(astro Astronomy) *Resolver {
	return &Resolver{astro: astro}
}

// Resolve returns the day or night onah of a civil date. A night onah runs
// from the date's sunset to the next date's sunrise.
func (r *Resolver) Resolve(date time.Time, loc Location, isDayOnah bool) (Period, error) {
	if err := loc.Validate(); err != nil {
		return Period{}, err
	}
	d := Date(date)

	var start, end time.Time
	var err error
	if isDayOnah {
		if start, err = r.astro.Sunrise(d, loc); err != nil {
			return Period{}, fmt.Errorf("sunrise for %s: %w", d.Format(time.DateOnly), err)
		}
		if end, err = r.astro.Sunset(d, loc); err != nil {
			return Period{}, fmt.Errorf("sunset for %s: %w", d.Format(time.DateOnly), err)
		}
	} else {
		if start, err = r.astro.Sunset(d, loc); err != nil {
			return Period{}, fmt.Errorf("sunset for %s: %w", d.Format(time.DateOnly), err)
		}
		next := AddDays(d, 1)
		if end, err = r.astro.Sunrise(next, loc); err != nil {
			return Period{}, fmt.Errorf("sunrise for %s: %w", next.Format(time.DateOnly), err)
		}
	}

	label, err := r.astro.CalendarLabel(start, loc)
	if err != nil {
		return Period{}, fmt.Errorf("calendar label for %s: %w", start.Format(time.RFC3339), err)
	}

	return Period{
		Start:         start,
		End:           end,
		CalendarLabel: label.String(),
		Lunar:         label,
		Weekday:       d.Weekday(),
	}, nil
}

// Classify reports whether start/end describe a day onah. Day onot begin and
// end on the same civil date; night onot cross midnight.
func (r *Resolver) Classify(start, end time.Time, loc Location) (bool, error) {
	tz, err := loc.TimeZone()
	if err != nil {
		return false, err
	}
	return CivilDate(start, tz).Equal(CivilDate(end, tz)), nil
}

// CivilDateOf returns the civil date an instant falls on at loc.
func (r *Resolver) CivilDateOf(instant time.Time, loc Location) (time.Time, error) {
	tz, err := loc.TimeZone()
	if err != nil {
		return time.Time{}, err
	}
	return CivilDate(instant, tz), nil
}

// Label returns the lunar date of an instant.
func (r *Resolver) Label(instant time.Time, loc Location) (LunarDate, error) {
	if err := loc.Validate(); err != nil {
		return LunarDate{}, err
	}
	return r.astro.CalendarLabel(instant, loc)
}

// AddLunarMonths advances a lunar date by n months.
func (r *Resolver) AddLunarMonths(d LunarDate, n int) (LunarDate, error) {
	return r.astro.AddLunarMonths(d, n)
}

// ResolveLunar returns the onah of a lunar date. The night of a lunar date
// begins at sunset of the previous civil date.
func (r *Resolver) ResolveLunar(d LunarDate, loc Location, isDayOnah bool) (Period, error) {
	if err := loc.Validate(); err != nil {
		return Period{}, err
	}
	civil, err := r.astro.CivilDate(d, loc)
	if err != nil {
		return Period{}, fmt.Errorf("civil date of %s: %w", d, err)
	}
	if !isDayOnah {
		civil = AddDays(civil, -1)
	}
	return r.Resolve(civil, loc, isDayOnah)
}
