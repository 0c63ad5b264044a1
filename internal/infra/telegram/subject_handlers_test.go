package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"

	"vest_tracker/internal/app"
	"vest_tracker/internal/domain/cycle"
	"vest_tracker/internal/domain/onah"
	"vest_tracker/internal/domain/subject"
	"vest_tracker/internal/domain/vest"
	"vest_tracker/internal/infra/memstore"
	"vest_tracker/internal/testutil/fakeastro"
)

const adminID int64 = 42

var jerusalem = onah.Location{Latitude: 31.778, Longitude: 35.235, TimezoneID: "Asia/Jerusalem"}

// fakeContext implements the part of telebot.Context the handlers use.
type fakeContext struct {
	telebot.Context
	sender *telebot.User
	args   []string
	sent   []string
}

func (c *fakeContext) Sender() *telebot.User { return c.sender }
func (c *fakeContext) Args() []string        { return c.args }
func (c *fakeContext) Send(what interface{}, _ ...interface{}) error {
	c.sent = append(c.sent, fmt.Sprint(what))
	return nil
}

func (c *fakeContext) last() string {
	if len(c.sent) == 0 {
		return ""
	}
	return c.sent[len(c.sent)-1]
}

type recordingNotifier struct {
	chatIDs []int64
	texts   []string
}

func (n *recordingNotifier) Notify(chatID int64, text string) error {
	n.chatIDs = append(n.chatIDs, chatID)
	n.texts = append(n.texts, text)
	return nil
}

type handlerHarness struct {
	store    *memstore.Store
	handlers *SubjectHandlers
	notifier *recordingNotifier
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	logger := logrus.NewEntry(l)

	store := memstore.New()
	resolver := onah.NewResolver(fakeastro.New())
	cycles := app.NewCycleService(store, store.Subjects(), resolver, vest.NewEngine(resolver), logger)
	subjects := app.NewSubjectService(store.Subjects(), cycles, adminID, 0)
	notifier := &recordingNotifier{}

	h := NewSubjectHandlers(context.Background(), subjects, cycles, jerusalem, adminID, notifier, logger)
	h.now = func() time.Time { return time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC) }
	return &handlerHarness{store: store, handlers: h, notifier: notifier}
}

func user(id int64) *telebot.User {
	return &telebot.User{ID: id, FirstName: fmt.Sprintf("User%d", id)}
}

// run invokes a handler as the given user and returns the reply.
func run(t *testing.T, handler func(telebot.Context) error, from int64, args ...string) string {
	t.Helper()
	c := &fakeContext{sender: user(from), args: args}
	require.NoError(t, handler(c))
	require.Len(t, c.sent, 1)
	return c.last()
}

func TestRegister_DefaultLocationAndDuplicate(t *testing.T) {
	h := newHandlerHarness(t)

	reply := run(t, h.handlers.Register, 100)
	assert.Contains(t, reply, "Registered at 31.7780, 35.2350 (Asia/Jerusalem)")

	subj, err := h.store.Subjects().GetByTelegramID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "User100", subj.Name)
	assert.Equal(t, jerusalem, subj.Location)

	assert.Equal(t, "You are already registered.", run(t, h.handlers.Register, 100))
}

func TestRegister_BadLocation(t *testing.T) {
	h := newHandlerHarness(t)

	assert.Contains(t, run(t, h.handlers.Register, 100, "91", "0", "UTC"), `the latitude "91" is not usable`)
	assert.Contains(t, run(t, h.handlers.Register, 100, "north", "0", "UTC"), `latitude "north" is not a number`)
}

func TestCommands_RequireRegistration(t *testing.T) {
	h := newHandlerHarness(t)

	for name, handler := range map[string]func(telebot.Context) error{
		"start_cycle": h.handlers.StartCycle,
		"forecast":    h.handlers.Forecast,
		"history":     h.handlers.History,
		"min_gap":     h.handlers.MinGap,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Contains(t, run(t, handler, 7), "You are not registered yet")
		})
	}
}

func TestCycleFlow(t *testing.T) {
	h := newHandlerHarness(t)
	run(t, h.handlers.Register, 100)

	reply := run(t, h.handlers.StartCycle, 100, "2025-01-01", "day")
	assert.Contains(t, reply, "Cycle #")
	assert.Contains(t, reply, "Monthly: ")
	assert.Contains(t, reply, "Interval: not enough history")
	assert.Contains(t, reply, "Day 30: Thu 2025-01-30 day onah, 06:00 to 18:00")

	assert.Equal(t, "Milestone recorded. Clean days start 2025-01-07, earliest completion 2025-01-14.",
		run(t, h.handlers.Milestone, 100, "2025-01-06"))
	assert.Equal(t, "Examination of 2025-01-07 recorded.",
		run(t, h.handlers.Exam, 100, "1", "morning", "clean"))
	assert.Contains(t, run(t, h.handlers.Complete, 100, "2025-01-14"), "completed after 13 days.")

	history := run(t, h.handlers.History, 100)
	assert.Contains(t, history, "2025-01-01 06:00, completed, length 13")

	assert.Equal(t, "No cycle in progress. Use /start_cycle first.", run(t, h.handlers.Milestone, 100, "2025-01-20"))
}

func TestStartCycle_Arguments(t *testing.T) {
	h := newHandlerHarness(t)
	run(t, h.handlers.Register, 100)

	assert.Contains(t, run(t, h.handlers.StartCycle, 100, "2025-01-01"), "Usage: /start_cycle")
	assert.Contains(t, run(t, h.handlers.StartCycle, 100, "2025-13-01", "day"), "must look like 2025-01-31")
	assert.Contains(t, run(t, h.handlers.StartCycle, 100, "today", "dusk"), `onah "dusk" must be day or night`)

	reply := run(t, h.handlers.StartCycle, 100, "today", "night")
	assert.Contains(t, reply, "Cycle #")

	assert.Equal(t, "You already have a cycle in progress. Delete it or complete it first.",
		run(t, h.handlers.StartCycle, 100, "2025-04-01", "day"))
}

func TestMilestone_TooEarly(t *testing.T) {
	h := newHandlerHarness(t)
	run(t, h.handlers.Register, 100)
	run(t, h.handlers.StartCycle, 100, "2025-01-01", "day")

	assert.Contains(t, run(t, h.handlers.Milestone, 100, "2025-01-03"), "Not allowed: milestone is 2 days after its anchor")
}

func TestExam_NotCleanRestartsCycle(t *testing.T) {
	h := newHandlerHarness(t)
	run(t, h.handlers.Register, 100)
	run(t, h.handlers.StartCycle, 100, "2025-01-01", "day")
	run(t, h.handlers.Milestone, 100, "2025-01-06")

	reply := run(t, h.handlers.Exam, 100, "3", "evening", "not_clean")
	assert.Equal(t, "Examination of 2025-01-09 recorded. The cycle was restarted at the examination date.", reply)

	assert.Contains(t, run(t, h.handlers.History, 100), "restarted from 2025-01-01")
	assert.Contains(t, run(t, h.handlers.Exam, 100, "9", "evening", "clean"), "Not allowed: day number 9")
}

func TestForecast(t *testing.T) {
	h := newHandlerHarness(t)
	run(t, h.handlers.Register, 100)
	assert.Equal(t, "No cycles recorded yet.", run(t, h.handlers.Forecast, 100))

	run(t, h.handlers.StartCycle, 100, "2025-01-01", "day")
	subj, err := h.store.Subjects().GetByTelegramID(context.Background(), 100)
	require.NoError(t, err)
	cycles, err := h.store.ListBySubject(context.Background(), subj.ID)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	id := cycles[0].ID

	assert.Contains(t, run(t, h.handlers.Forecast, 100), fmt.Sprintf("Forecast for cycle #%d:", id))
	assert.Contains(t, run(t, h.handlers.Forecast, 100, fmt.Sprintf("#%d", id)), "Monthly: ")
	assert.Equal(t, "Not found: cycle 999.", run(t, h.handlers.Forecast, 100, "999"))
}

func TestDeleteCycle_OnlyOwnCycles(t *testing.T) {
	h := newHandlerHarness(t)
	run(t, h.handlers.Register, 100)
	run(t, h.handlers.Register, 200)
	run(t, h.handlers.StartCycle, 100, "2025-01-01", "day")

	owner, err := h.store.Subjects().GetByTelegramID(context.Background(), 100)
	require.NoError(t, err)
	cycles, err := h.store.ListBySubject(context.Background(), owner.ID)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	id := fmt.Sprint(cycles[0].ID)

	assert.Equal(t, "Not found: cycle "+id+".", run(t, h.handlers.DeleteCycle, 200, id))
	_, err = h.store.GetByID(context.Background(), cycles[0].ID)
	require.NoError(t, err)

	assert.Equal(t, "Cycle #"+id+" deleted.", run(t, h.handlers.DeleteCycle, 100, id))
	assert.Equal(t, "No cycles recorded yet.", run(t, h.handlers.History, 100))
}

func TestStringency(t *testing.T) {
	h := newHandlerHarness(t)
	run(t, h.handlers.Register, 100)

	assert.Equal(t, "preceding: off\nopposite: off\nextra_day: off", run(t, h.handlers.Stringency, 100))
	assert.Equal(t, "Preferences saved.", run(t, h.handlers.Stringency, 100, "opposite", "on"))
	assert.Contains(t, run(t, h.handlers.Stringency, 100, "stricter", "on"), `unknown stringency "stricter"`)

	subj, err := h.store.Subjects().GetByTelegramID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, subject.StringencyFlags{OppositeOnah: true}, subj.Flags)
}

func TestMinGap(t *testing.T) {
	h := newHandlerHarness(t)
	run(t, h.handlers.Register, 100)

	assert.Contains(t, run(t, h.handlers.MinGap, 100), "Minimum days before a milestone: 5.")
	assert.Equal(t, "Minimum days before a milestone set to 3.", run(t, h.handlers.MinGap, 100, "3"))
	assert.Contains(t, run(t, h.handlers.MinGap, 100, "45"), "minimum gap must be between 1 and 30 days")
}

func TestAlertAdmin_OnlyWhenDegraded(t *testing.T) {
	h := newHandlerHarness(t)
	subj := &subject.Subject{ID: 3, TelegramID: 300}
	l := h.handlers.logger

	h.handlers.alertAdmin(l, subj, &cycle.CascadeResult{Cascaded: 2})
	assert.Empty(t, h.notifier.texts)

	h.handlers.alertAdmin(l, subj, &cycle.CascadeResult{
		Cascaded: 1,
		Failures: []cycle.CascadeFailure{{CycleID: 7, Err: errors.New("write failed")}},
	})
	require.Len(t, h.notifier.texts, 1)
	assert.Equal(t, []int64{adminID}, h.notifier.chatIDs)
	assert.Contains(t, h.notifier.texts[0], "subject 3 (telegram 300) is degraded")
	assert.Contains(t, h.notifier.texts[0], "Could not recalculate #7")
}
