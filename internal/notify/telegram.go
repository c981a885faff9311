// Package notify sends cycle summaries to a Telegram chat.
package notify

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI is the subset of the Telegram API the notifier uses.
type BotAPI interface {
	SendMessage(chatID int64, text string) error
}

// TGBotAPIClient adapts tgbotapi.BotAPI to the BotAPI interface.
type TGBotAPIClient struct {
	bot *tgbotapi.BotAPI
}

// NewTGBotAPIClient creates a new Telegram client using tgbotapi.
func NewTGBotAPIClient(token string) (*TGBotAPIClient, error) {
	return NewTGBotAPIClientWithEndpoint(token, tgbotapi.APIEndpoint)
}

// NewTGBotAPIClientWithEndpoint creates a client against a custom Bot API endpoint,
// formatted like tgbotapi.APIEndpoint.
func NewTGBotAPIClientWithEndpoint(token, endpoint string) (*TGBotAPIClient, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, err
	}
	return &TGBotAPIClient{bot: bot}, nil
}

// SendMessage sends an HTML message to the specified chat.
func (c *TGBotAPIClient) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	_, err := c.bot.Send(msg)
	return err
}

var _ BotAPI = (*TGBotAPIClient)(nil)
