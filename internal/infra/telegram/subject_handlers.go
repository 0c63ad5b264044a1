// internal/infra/telegram/subject_handlers.go
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vest_tracker/internal/app"
	"vest_tracker/internal/domain/cycle"
	"vest_tracker/internal/domain/onah"
	"vest_tracker/internal/domain/subject"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// SubjectHandlers serves the commands of registered subjects.
type SubjectHandlers struct {
	ctx             context.Context
	subjects        *app.SubjectService
	cycles          *app.CycleService
	defaultLocation onah.Location
	adminTelegramID int64
	notifier        Notifier
	logger          *logrus.Entry
	now             func() time.Time
}

func NewSubjectHandlers(
	ctx context.Context,
	subjects *app.SubjectService,
	cycles *app.CycleService,
	defaultLocation onah.Location,
	adminTelegramID int64,
	notifier Notifier,
	baseLogger *logrus.Entry,
) *SubjectHandlers {
	return &SubjectHandlers{
		ctx:             ctx,
		subjects:        subjects,
		cycles:          cycles,
		defaultLocation: defaultLocation,
		adminTelegramID: adminTelegramID,
		notifier:        notifier,
		logger:          baseLogger.WithField("handler_group", "subject"),
		now:             time.Now,
	}
}

// RegisterSubjectHandlers registers the subject commands on the bot.
func RegisterSubjectHandlers(b *telebot.Bot, h *SubjectHandlers) {
	b.Handle("/register", h.Register)
	b.Handle("/location", h.Location)
	b.Handle("/start_cycle", h.StartCycle)
	b.Handle("/milestone", h.Milestone)
	b.Handle("/complete", h.Complete)
	b.Handle("/exam", h.Exam)
	b.Handle("/forecast", h.Forecast)
	b.Handle("/history", h.History)
	b.Handle("/delete_cycle", h.DeleteCycle)
	b.Handle("/stringency", h.Stringency)
	b.Handle("/min_gap", h.MinGap)
}

func (h *SubjectHandlers) commandLogger(c telebot.Context, command string) *logrus.Entry {
	l := h.logger.WithFields(logrus.Fields{
		"handler":   command,
		"sender_id": c.Sender().ID,
	})
	l.Info("Command received")
	return l
}

// fail answers with a readable message for err and logs it at a level
// matching whether the user caused it.
func (h *SubjectHandlers) fail(c telebot.Context, l *logrus.Entry, err error) error {
	msg, userError := userMessage(err)
	if userError {
		l.WithError(err).Warn("Command rejected")
	} else {
		l.WithError(err).Error("Command failed")
	}
	return c.Send(msg)
}

// subject loads the sender's profile. A missing profile is answered here
// and reported as nil.
func (h *SubjectHandlers) subject(c telebot.Context, l *logrus.Entry) (*subject.Subject, *time.Location, error) {
	subj, err := h.subjects.GetByTelegramID(h.ctx, c.Sender().ID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil, c.Send("You are not registered yet. Use /register [latitude longitude timezone].")
		}
		return nil, nil, h.fail(c, l, err)
	}
	tz, err := subj.Location.TimeZone()
	if err != nil {
		return nil, nil, h.fail(c, l, err)
	}
	return subj, tz, nil
}

// alertAdmin reports cycles a cascade could not recompute.
func (h *SubjectHandlers) alertAdmin(l *logrus.Entry, subj *subject.Subject, r *cycle.CascadeResult) {
	if r == nil || !r.Degraded() || h.notifier == nil {
		return
	}
	text := fmt.Sprintf("Recalculation for subject %d (telegram %d) is degraded: %s", subj.ID, subj.TelegramID, formatCascade(r))
	if err := h.notifier.Notify(h.adminTelegramID, text); err != nil {
		l.WithError(err).Error("Failed to alert admin about degraded cascade")
	}
}

func (h *SubjectHandlers) Register(c telebot.Context) error {
	l := h.commandLogger(c, "/register")
	loc, err := parseLocation(c.Args(), h.defaultLocation)
	if err != nil {
		return h.fail(c, l, err)
	}
	subj, err := h.subjects.Register(h.ctx, c.Sender().ID, c.Sender().FirstName, loc)
	if err != nil {
		return h.fail(c, l, err)
	}
	l.WithField("subject_id", subj.ID).Info("Subject registered")
	return c.Send(fmt.Sprintf("Registered at %.4f, %.4f (%s). Start tracking with /start_cycle <date> day|night.",
		loc.Latitude, loc.Longitude, loc.TimezoneID))
}

func (h *SubjectHandlers) Location(c telebot.Context) error {
	l := h.commandLogger(c, "/location")
	subj, _, err := h.subject(c, l)
	if subj == nil {
		return err
	}
	if len(c.Args()) != 3 {
		return c.Send("Usage: /location <latitude> <longitude> <timezone>")
	}
	loc, err := parseLocation(c.Args(), onah.Location{})
	if err != nil {
		return h.fail(c, l, err)
	}
	result, err := h.subjects.UpdateLocation(h.ctx, subj.ID, loc)
	if err != nil {
		return h.fail(c, l, err)
	}
	h.alertAdmin(l, subj, result)
	return c.Send(strings.TrimSpace("Location updated. " + formatCascade(result)))
}

func (h *SubjectHandlers) StartCycle(c telebot.Context) error {
	l := h.commandLogger(c, "/start_cycle")
	subj, tz, err := h.subject(c, l)
	if subj == nil {
		return err
	}
	args := c.Args()
	if len(args) != 2 {
		return c.Send("Usage: /start_cycle <YYYY-MM-DD|today> day|night")
	}
	date, err := parseDate(args[0], tz, h.now())
	if err != nil {
		return h.fail(c, l, err)
	}
	isDay, err := parseOnahKind(args[1])
	if err != nil {
		return h.fail(c, l, err)
	}

	started, err := h.cycles.StartCycleOnDate(h.ctx, subj.ID, date, isDay)
	if err != nil {
		return h.fail(c, l, err)
	}
	l.WithField("cycle_id", started.ID).Info("Cycle started")

	reply := fmt.Sprintf("Cycle #%d started.", started.ID)
	if f, err := h.cycles.GetForecast(h.ctx, started.ID); err == nil {
		reply += "\n\n" + formatForecast(f, tz)
	} else {
		l.WithError(err).Warn("Forecast unavailable after start")
	}
	return c.Send(reply)
}

// activeCycle answers when the subject has no cycle in progress.
func (h *SubjectHandlers) activeCycle(c telebot.Context, l *logrus.Entry, subj *subject.Subject) (*cycle.Cycle, error) {
	active, err := h.cycles.GetActiveCycle(h.ctx, subj.ID)
	if err != nil {
		if isNotFound(err) {
			return nil, c.Send("No cycle in progress. Use /start_cycle first.")
		}
		return nil, h.fail(c, l, err)
	}
	return active, nil
}

func (h *SubjectHandlers) Milestone(c telebot.Context) error {
	l := h.commandLogger(c, "/milestone")
	subj, tz, err := h.subject(c, l)
	if subj == nil {
		return err
	}
	if len(c.Args()) != 1 {
		return c.Send("Usage: /milestone <YYYY-MM-DD|today>")
	}
	date, err := parseDate(c.Args()[0], tz, h.now())
	if err != nil {
		return h.fail(c, l, err)
	}
	active, err := h.activeCycle(c, l, subj)
	if active == nil {
		return err
	}
	updated, err := h.cycles.RecordMilestone(h.ctx, active.ID, date)
	if err != nil {
		return h.fail(c, l, err)
	}
	return c.Send(fmt.Sprintf("Milestone recorded. Clean days start %s, earliest completion %s.",
		updated.SecondMilestoneStart.Time.Format(time.DateOnly), updated.CompletionDate.Time.Format(time.DateOnly)))
}

func (h *SubjectHandlers) Complete(c telebot.Context) error {
	l := h.commandLogger(c, "/complete")
	subj, tz, err := h.subject(c, l)
	if subj == nil {
		return err
	}
	if len(c.Args()) != 1 {
		return c.Send("Usage: /complete <YYYY-MM-DD|today>")
	}
	date, err := parseDate(c.Args()[0], tz, h.now())
	if err != nil {
		return h.fail(c, l, err)
	}
	active, err := h.activeCycle(c, l, subj)
	if active == nil {
		return err
	}
	updated, err := h.cycles.RecordCompletion(h.ctx, active.ID, date)
	if err != nil {
		return h.fail(c, l, err)
	}
	return c.Send(fmt.Sprintf("Cycle #%d completed after %d days.", updated.ID, updated.TotalLength.Int32))
}

func (h *SubjectHandlers) Exam(c telebot.Context) error {
	l := h.commandLogger(c, "/exam")
	subj, tz, err := h.subject(c, l)
	if subj == nil {
		return err
	}
	args := c.Args()
	if len(args) < 3 || len(args) > 4 {
		return c.Send("Usage: /exam <day 1-7> morning|evening|both clean|questionable|not_clean [YYYY-MM-DD]")
	}
	day, err := strconv.Atoi(args[0])
	if err != nil {
		return h.fail(c, l, argError("day %q is not a number", args[0]))
	}
	tod, err := parseTimeOfDay(args[1])
	if err != nil {
		return h.fail(c, l, err)
	}
	res, err := parseResult(args[2])
	if err != nil {
		return h.fail(c, l, err)
	}
	exam := &cycle.Examination{DayNumber: day, TimeOfDay: tod, Result: res}
	if len(args) == 4 {
		if exam.Date, err = parseDate(args[3], tz, h.now()); err != nil {
			return h.fail(c, l, err)
		}
	}

	active, err := h.activeCycle(c, l, subj)
	if active == nil {
		return err
	}
	result, err := h.cycles.RecordExamination(h.ctx, active.ID, exam)
	if err != nil {
		return h.fail(c, l, err)
	}
	h.alertAdmin(l, subj, result)
	return c.Send(strings.TrimSpace(fmt.Sprintf("Examination of %s recorded. %s", exam.Date.Format(time.DateOnly), formatCascade(result))))
}

func (h *SubjectHandlers) Forecast(c telebot.Context) error {
	l := h.commandLogger(c, "/forecast")
	subj, tz, err := h.subject(c, l)
	if subj == nil {
		return err
	}
	cycles, err := h.cycles.ListCycles(h.ctx, subj.ID)
	if err != nil {
		return h.fail(c, l, err)
	}
	if len(cycles) == 0 {
		return c.Send("No cycles recorded yet.")
	}

	target := cycles[len(cycles)-1]
	if len(c.Args()) == 1 {
		id, err := strconv.ParseInt(strings.TrimPrefix(c.Args()[0], "#"), 10, 64)
		if err != nil {
			return h.fail(c, l, argError("cycle id %q is not a number", c.Args()[0]))
		}
		if target = findCycle(cycles, id); target == nil {
			return h.fail(c, l, &cycle.NotFoundError{Entity: "cycle", ID: id})
		}
	}
	f, err := h.cycles.GetForecast(h.ctx, target.ID)
	if err != nil {
		return h.fail(c, l, err)
	}
	return c.Send(fmt.Sprintf("Forecast for cycle #%d:\n%s", target.ID, formatForecast(f, tz)))
}

func (h *SubjectHandlers) History(c telebot.Context) error {
	l := h.commandLogger(c, "/history")
	subj, tz, err := h.subject(c, l)
	if subj == nil {
		return err
	}
	cycles, err := h.cycles.ListCycles(h.ctx, subj.ID)
	if err != nil {
		return h.fail(c, l, err)
	}
	if len(cycles) == 0 {
		return c.Send("No cycles recorded yet.")
	}
	var b strings.Builder
	for _, cy := range cycles {
		b.WriteString(formatCycle(cy, tz))
		b.WriteString("\n")
	}
	return c.Send(strings.TrimRight(b.String(), "\n"))
}

func (h *SubjectHandlers) DeleteCycle(c telebot.Context) error {
	l := h.commandLogger(c, "/delete_cycle")
	subj, _, err := h.subject(c, l)
	if subj == nil {
		return err
	}
	if len(c.Args()) != 1 {
		return c.Send("Usage: /delete_cycle <cycle id>")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(c.Args()[0], "#"), 10, 64)
	if err != nil {
		return h.fail(c, l, argError("cycle id %q is not a number", c.Args()[0]))
	}
	cycles, err := h.cycles.ListCycles(h.ctx, subj.ID)
	if err != nil {
		return h.fail(c, l, err)
	}
	if findCycle(cycles, id) == nil {
		return h.fail(c, l, &cycle.NotFoundError{Entity: "cycle", ID: id})
	}

	result, err := h.cycles.DeleteCycle(h.ctx, id)
	if err != nil {
		return h.fail(c, l, err)
	}
	l.WithField("cycle_id", id).Info("Cycle deleted")
	h.alertAdmin(l, subj, result)
	return c.Send(strings.TrimSpace(fmt.Sprintf("Cycle #%d deleted. %s", id, formatCascade(result))))
}

func (h *SubjectHandlers) Stringency(c telebot.Context) error {
	l := h.commandLogger(c, "/stringency")
	subj, _, err := h.subject(c, l)
	if subj == nil {
		return err
	}
	args := c.Args()
	if len(args) == 0 {
		return c.Send(fmt.Sprintf("preceding: %s\nopposite: %s\nextra_day: %s",
			onOff(subj.Flags.PrecedingOnah), onOff(subj.Flags.OppositeOnah), onOff(subj.Flags.ExtraDay)))
	}
	if len(args) != 2 {
		return c.Send("Usage: /stringency preceding|opposite|extra_day on|off")
	}
	on, err := parseOnOff(args[1])
	if err != nil {
		return h.fail(c, l, err)
	}
	flags := subj.Flags
	switch strings.ToLower(args[0]) {
	case "preceding":
		flags.PrecedingOnah = on
	case "opposite":
		flags.OppositeOnah = on
	case "extra_day":
		flags.ExtraDay = on
	default:
		return h.fail(c, l, argError("unknown stringency %q", args[0]))
	}

	result, err := h.subjects.UpdatePreferences(h.ctx, subj.ID, flags)
	if err != nil {
		return h.fail(c, l, err)
	}
	h.alertAdmin(l, subj, result)
	return c.Send(strings.TrimSpace("Preferences saved. " + formatCascade(result)))
}

func (h *SubjectHandlers) MinGap(c telebot.Context) error {
	l := h.commandLogger(c, "/min_gap")
	subj, _, err := h.subject(c, l)
	if subj == nil {
		return err
	}
	if len(c.Args()) != 1 {
		return c.Send(fmt.Sprintf("Minimum days before a milestone: %d. Change with /min_gap <days>.", subj.MinimumGapDays))
	}
	days, err := strconv.Atoi(c.Args()[0])
	if err != nil {
		return h.fail(c, l, argError("days %q is not a number", c.Args()[0]))
	}
	updated, err := h.subjects.SetMinimumGapDays(h.ctx, subj.ID, days)
	if err != nil {
		return h.fail(c, l, err)
	}
	return c.Send(fmt.Sprintf("Minimum days before a milestone set to %d.", updated.MinimumGapDays))
}

func findCycle(cycles []*cycle.Cycle, id int64) *cycle.Cycle {
	for _, c := range cycles {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
