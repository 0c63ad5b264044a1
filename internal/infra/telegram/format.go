// internal/infra/telegram/format.go
package telegram

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"vest_tracker/internal/app"
	"vest_tracker/internal/domain/cycle"
	"vest_tracker/internal/domain/onah"
	"vest_tracker/internal/infra/database"
)

var errBadArgument = errors.New("bad argument")

func argError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", errBadArgument, fmt.Sprintf(format, a...))
}

func isNotFound(err error) bool {
	var nf *cycle.NotFoundError
	return errors.As(err, &nf)
}

// parseDate accepts YYYY-MM-DD or "today" (in tz).
func parseDate(s string, tz *time.Location, now time.Time) (time.Time, error) {
	if strings.EqualFold(s, "today") {
		return onah.CivilDate(now, tz), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, argError("date %q must look like 2025-01-31", s)
	}
	return onah.Date(t), nil
}

func parseOnahKind(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "day":
		return true, nil
	case "night":
		return false, nil
	}
	return false, argError("onah %q must be day or night", s)
}

func parseTimeOfDay(s string) (cycle.TimeOfDay, error) {
	switch strings.ToLower(s) {
	case "morning":
		return cycle.TimeOfDayMorning, nil
	case "evening":
		return cycle.TimeOfDayEvening, nil
	case "both":
		return cycle.TimeOfDayBoth, nil
	}
	return "", argError("time of day %q must be morning, evening or both", s)
}

func parseResult(s string) (cycle.Result, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "clean":
		return cycle.ResultClean, nil
	case "questionable":
		return cycle.ResultQuestionable, nil
	case "not_clean", "notclean":
		return cycle.ResultNotClean, nil
	}
	return "", argError("result %q must be clean, questionable or not_clean", s)
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes", "true":
		return true, nil
	case "off", "no", "false":
		return false, nil
	}
	return false, argError("%q must be on or off", s)
}

// parseLocation reads "<lat> <lon> <timezone>". With no arguments the
// fallback is used.
func parseLocation(args []string, fallback onah.Location) (onah.Location, error) {
	if len(args) == 0 {
		return fallback, nil
	}
	if len(args) != 3 {
		return onah.Location{}, argError("expected <latitude> <longitude> <timezone>")
	}
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return onah.Location{}, argError("latitude %q is not a number", args[0])
	}
	lon, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return onah.Location{}, argError("longitude %q is not a number", args[1])
	}
	return onah.Location{Latitude: lat, Longitude: lon, TimezoneID: args[2]}, nil
}

func formatPeriod(p onah.Period, tz *time.Location) string {
	kind := "night"
	if onah.CivilDate(p.Start, tz).Equal(onah.CivilDate(p.End, tz)) {
		kind = "day"
	}
	return fmt.Sprintf("%s %s onah, %s to %s (%s)",
		p.Start.In(tz).Format("Mon 2006-01-02"), kind,
		p.Start.In(tz).Format("15:04"), p.End.In(tz).Format("15:04"),
		p.CalendarLabel)
}

var variantTitles = map[cycle.VariantKey]string{
	cycle.VariantMonthlyPrecedingOnah:    "Monthly, preceding onah",
	cycle.VariantIntervalPrecedingOnah:   "Interval, preceding onah",
	cycle.VariantFixedCountPrecedingOnah: "Day 30, preceding onah",
	cycle.VariantFixedCountOppositeOnah:  "Day 30, opposite onah",
	cycle.VariantFixedCountExtraDay:      "Day 30, extra day",
}

func formatForecast(f *cycle.Forecast, tz *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Monthly: %s\n", formatPeriod(f.Monthly, tz))
	if f.Interval != nil {
		fmt.Fprintf(&b, "Interval: %s\n", formatPeriod(*f.Interval, tz))
	} else {
		b.WriteString("Interval: not enough history\n")
	}
	fmt.Fprintf(&b, "Day 30: %s\n", formatPeriod(f.FixedCount, tz))

	keys := make([]string, 0, len(f.Variants))
	for k := range f.Variants {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := cycle.VariantKey(k)
		fmt.Fprintf(&b, "%s: %s\n", variantTitles[key], formatPeriod(f.Variants[key], tz))
	}
	return strings.TrimRight(b.String(), "\n")
}

var statusLabels = map[cycle.Status]string{
	cycle.StatusPhase1:    "waiting for milestone",
	cycle.StatusPhase2:    "counting clean days",
	cycle.StatusCompleted: "completed",
}

func formatCycle(c *cycle.Cycle, tz *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s, %s", c.ID, c.OnahStart.In(tz).Format("2006-01-02 15:04"), statusLabels[c.Status])
	if c.MeasuredInterval.Valid {
		fmt.Fprintf(&b, ", interval %d", c.MeasuredInterval.Int32)
	}
	if c.TotalLength.Valid {
		fmt.Fprintf(&b, ", length %d", c.TotalLength.Int32)
	}
	if c.Void != nil {
		fmt.Fprintf(&b, ", restarted from %s", c.Void.OriginalOnahStart.In(tz).Format("2006-01-02"))
	}
	return b.String()
}

func formatCascade(r *cycle.CascadeResult) string {
	var parts []string
	if r.Voided {
		parts = append(parts, "The cycle was restarted at the examination date.")
	}
	if r.Cascaded > 0 {
		parts = append(parts, fmt.Sprintf("%d later cycle(s) recalculated.", r.Cascaded))
	}
	if r.Degraded() {
		ids := make([]string, len(r.Failures))
		for i, f := range r.Failures {
			ids[i] = "#" + strconv.FormatInt(f.CycleID, 10)
		}
		parts = append(parts, fmt.Sprintf("Could not recalculate %s, they will be retried.", strings.Join(ids, ", ")))
	}
	return strings.Join(parts, " ")
}

// userMessage turns a service error into a reply. ok is false for errors the
// user cannot act on.
func userMessage(err error) (msg string, ok bool) {
	var (
		le  *onah.LocationError
		tie *cycle.TemporalInvariantError
		ste *cycle.StateTransitionError
		nf  *cycle.NotFoundError
	)
	switch {
	case errors.Is(err, errBadArgument):
		return "Error: " + strings.TrimPrefix(err.Error(), errBadArgument.Error()+": "), true
	case errors.As(err, &le):
		return fmt.Sprintf("Error: the %s %q is not usable (%s).", le.Field, le.Value, le.Reason), true
	case errors.As(err, &tie):
		return "Not allowed: " + tie.Detail + ".", true
	case errors.As(err, &ste):
		if ste.CycleID == 0 {
			return "You already have a cycle in progress. Delete it or complete it first.", true
		}
		return fmt.Sprintf("Cannot %s: cycle #%d is %s.", ste.Action, ste.CycleID, statusLabels[ste.From]), true
	case errors.As(err, &nf):
		return fmt.Sprintf("Not found: %s %d.", nf.Entity, nf.ID), true
	case errors.Is(err, app.ErrSubjectAlreadyExists), errors.Is(err, database.ErrDuplicateTelegramID):
		return "You are already registered.", true
	case errors.Is(err, app.ErrInvalidMinimumGap):
		return "Error: " + app.ErrInvalidMinimumGap.Error() + ".", true
	case errors.Is(err, app.ErrAdminNotAuthorized):
		return "Error: you are not allowed to run this command.", true
	}
	return "Something went wrong, please try again later.", false
}
