package telemetry

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier pushes critical alerts to a Telegram chat. Rigs are
// often unattended; Telegram is how their owners find out about a
// crash-looped miner.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier connects the bot. Returns an error when the token
// is rejected so the agent can start without alerting rather than fail.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

// Send delivers one alert message.
func (n *TelegramNotifier) Send(text string) error {
	_, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, text))
	return err
}
