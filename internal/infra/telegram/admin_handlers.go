package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"vest_tracker/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterAdminHandlers registers handlers for admin commands.
// It requires the bot instance, subject service, and the configured admin Telegram ID.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, subjectService *app.SubjectService, adminTelegramID int64, baseLogger *logrus.Entry) {
	b.Handle("/recalculate", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/recalculate",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: you are not allowed to run this command.")
		}

		args := c.Args()
		// Expected format: /recalculate <TelegramID>
		if len(args) != 1 {
			return c.Send("Usage: /recalculate <TelegramID>")
		}
		subjectTelegramID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			handlerLogger.WithField("arg", args[0]).Warn("Invalid Telegram ID format")
			return c.Send("Error: Telegram ID must be a number.")
		}
		handlerLogger = handlerLogger.WithField("subject_telegram_id", subjectTelegramID)

		result, err := subjectService.Recalculate(ctx, c.Sender().ID, subjectTelegramID)
		if err != nil {
			msg, userError := userMessage(err)
			if userError {
				handlerLogger.WithError(err).Warn("Recalculation rejected")
			} else {
				handlerLogger.WithError(err).Error("Failed to recalculate subject")
			}
			return c.Send(msg)
		}

		handlerLogger.WithFields(logrus.Fields{
			"cascaded": result.Cascaded,
			"failures": len(result.Failures),
		}).Info("Subject recalculated")
		summary := formatCascade(result)
		if summary == "" {
			summary = "Nothing to recalculate."
		}
		return c.Send(fmt.Sprintf("Subject %d: %s", subjectTelegramID, summary))
	})

	b.Handle("/subjects", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/subjects",
			"sender_id": c.Sender().ID,
		})
		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: you are not allowed to run this command.")
		}

		subjects, err := subjectService.ListActiveSubjects(ctx, c.Sender().ID)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to list subjects")
			msg, _ := userMessage(err)
			return c.Send(msg)
		}
		if len(subjects) == 0 {
			return c.Send("No subjects registered.")
		}

		handlerLogger.WithField("subjects_count", len(subjects)).Info("Successfully retrieved subject list")
		var response strings.Builder
		response.WriteString("--- Active subjects ---\n")
		for _, s := range subjects {
			response.WriteString(fmt.Sprintf("ID: %d, Telegram ID: %d, Name: %s, Location: %.4f %.4f %s\n",
				s.ID,
				s.TelegramID,
				s.Name,
				s.Location.Latitude,
				s.Location.Longitude,
				s.Location.TimezoneID))
		}
		return c.Send(response.String())
	})
}
