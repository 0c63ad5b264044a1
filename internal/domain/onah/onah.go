// internal/domain/onah/onah.go
package onah

import (
	"fmt"
	"math"
	"time"
)

// Location is the place a subject observes onot from.
type Location struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	TimezoneID string  `json:"timezone_id"`
}

// Validate checks coordinate ranges and that the time zone resolves.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return &LocationError{Field: "latitude", Value: fmt.Sprintf("%g", l.Latitude), Reason: "must be within [-90, 90]"}
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return &LocationError{Field: "longitude", Value: fmt.Sprintf("%g", l.Longitude), Reason: "must be within [-180, 180]"}
	}
	if _, err := l.TimeZone(); err != nil {
		return err
	}
	return nil
}

// TimeZone loads the location's zone.
func (l Location) TimeZone() (*time.Location, error) {
	if l.TimezoneID == "" {
		return nil, &LocationError{Field: "timezone", Value: "", Reason: "is empty"}
	}
	tz, err := time.LoadLocation(l.TimezoneID)
	if err != nil {
		return nil, &LocationError{Field: "timezone", Value: l.TimezoneID, Reason: err.Error()}
	}
	return tz, nil
}

// LunarDate is a Hebrew calendar date. Months are numbered from Nisan (1);
// a leap year's Adar II is month 13.
type LunarDate struct {
	Year  int    `json:"year"`
	Month int    `json:"month"`
	Day   int    `json:"day"`
	Name  string `json:"name,omitempty"`
}

func (d LunarDate) String() string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("%d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Period is a single onah: sunrise to sunset, or sunset to the next sunrise.
type Period struct {
	Start         time.Time    `json:"start"`
	End           time.Time    `json:"end"`
	CalendarLabel string       `json:"calendar_label"`
	Lunar         LunarDate    `json:"lunar"`
	Weekday       time.Weekday `json:"weekday"`
}

// Equal reports whether both periods cover the same instants.
func (p Period) Equal(o Period) bool {
	return p.Start.Equal(o.Start) && p.End.Equal(o.End)
}

// Astronomy is the sunrise/sunset and lunar calendar primitive the resolver
// is built on. Civil dates are passed as midnight UTC of the date.
type Astronomy interface {
	Sunrise(date time.Time, loc Location) (time.Time, error)
	Sunset(date time.Time, loc Location) (time.Time, error)
	// CalendarLabel returns the lunar date an instant belongs to. The lunar
	// day starts at sunset.
	CalendarLabel(instant time.Time, loc Location) (LunarDate, error)
	AddLunarMonths(d LunarDate, n int) (LunarDate, error)
	// CivilDate returns the civil date whose daytime carries the lunar date.
	CivilDate(d LunarDate, loc Location) (time.Time, error)
}

// Date returns the civil date of t as midnight UTC, without zone conversion.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CivilDate returns the civil date on which instant falls in tz.
func CivilDate(instant time.Time, tz *time.Location) time.Time {
	return Date(instant.In(tz))
}

// AddDays moves a civil date by n days.
func AddDays(date time.Time, n int) time.Time {
	return Date(date).AddDate(0, 0, n)
}

// DaysBetween counts whole civil days from one date to another.
func DaysBetween(from, to time.Time) int {
	return int(Date(to).Sub(Date(from)) / (24 * time.Hour))
}
