// internal/infra/telegram/client.go
package telegram

import (
	"gopkg.in/telebot.v3"
)

// Notifier sends a message outside of a command reply, e.g. to alert the
// admin about a degraded recalculation.
type Notifier interface {
	Notify(chatID int64, text string) error
}

// TelebotNotifier implements Notifier using the gopkg.in/telebot.v3 library.
type TelebotNotifier struct {
	bot *telebot.Bot
}

func NewTelebotNotifier(b *telebot.Bot) *TelebotNotifier {
	return &TelebotNotifier{bot: b}
}

func (n *TelebotNotifier) Notify(chatID int64, text string) error {
	recipient := &telebot.User{ID: chatID} // direct user chat
	_, err := n.bot.Send(recipient, text, &telebot.SendOptions{DisableWebPagePreview: true})
	return err
}
