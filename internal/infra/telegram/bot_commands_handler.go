// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"fmt"
	"strings"

	"vest_tracker/internal/domain/subject"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const subjectHelp = "`/register [lat lon timezone]`\n - Create your profile. Without arguments the default location is used.\n\n" +
	"`/location <lat> <lon> <timezone>`\n - Change your location. All forecasts are recomputed.\n\n" +
	"`/start_cycle <YYYY-MM-DD|today> day|night`\n - Record the onah that started a cycle.\n\n" +
	"`/milestone <date>`\n - Record the first milestone of the current cycle.\n\n" +
	"`/exam <day> morning|evening|both clean|questionable|not_clean [date]`\n - Record an examination during the clean days.\n\n" +
	"`/complete <date>`\n - Complete the current cycle.\n\n" +
	"`/forecast [cycle id]`\n - Show the forecast of the latest or given cycle.\n\n" +
	"`/history`\n - List your cycles.\n\n" +
	"`/delete_cycle <cycle id>`\n - Delete a cycle. Later cycles are recomputed.\n\n" +
	"`/stringency [preceding|opposite|extra_day on|off]`\n - Show or change the optional forecast variants.\n\n" +
	"`/min_gap [days]`\n - Show or change the minimum days before a milestone.\n\n" +
	"`/help`\n - Show this message."

func RegisterBotCommands(
	ctx context.Context,
	b *telebot.Bot,
	adminTelegramID int64,
	subjectRepo subject.Repository,
	baseLogger *logrus.Entry, // For contextual logging
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if senderID == adminTelegramID {
			logCtx.Info("User identified as Admin")
			return c.Send(fmt.Sprintf("Hello, admin %s! Use /help for the list of commands.", c.Sender().FirstName))
		}

		subj, err := subjectRepo.GetByTelegramID(ctx, senderID)
		if err == nil {
			if subj.IsActive {
				logCtx.WithField("subject_id", subj.ID).Info("User identified as active subject")
				return c.Send(fmt.Sprintf("Hello, %s! Record a new cycle with /start_cycle or see /forecast.", subj.Name))
			}
			logCtx.WithField("subject_id", subj.ID).Info("User identified as inactive subject")
			return c.Send("Your profile is inactive. Please contact the administrator.")
		} else if !isNotFound(err) {
			logCtx.WithError(err).Error("Error checking subject status for /start command")
			return c.Send("Could not check your profile, please try again later.")
		}

		logCtx.Info("User is unknown")
		return c.Send("Hello! I track cycles and forecast the days to watch. Use /register to begin.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if senderID == adminTelegramID {
			logCtx.Info("User identified as Admin, sending admin help.")
			var helpText strings.Builder
			helpText.WriteString("Admin commands:\n\n")
			helpText.WriteString("`/recalculate <TelegramID>`\n - Recompute every cycle and forecast of a subject.\n\n")
			helpText.WriteString("`/subjects`\n - List active subjects.\n\n")
			helpText.WriteString("Subject commands:\n\n")
			helpText.WriteString(subjectHelp)
			return c.Send(helpText.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
		}

		subj, err := subjectRepo.GetByTelegramID(ctx, senderID)
		if err != nil && !isNotFound(err) {
			logCtx.WithError(err).Error("Error checking subject status for /help command")
			return c.Send("Could not check your profile, please try again later.")
		}
		if subj != nil && !subj.IsActive {
			return c.Send("Your profile is inactive. Please contact the administrator.")
		}
		return c.Send(subjectHelp, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}
