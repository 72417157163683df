package channels

import (
	"context"
	"strconv"

	"github.com/go-telegram/bot"

	"github.com/gridhaus/leadflow/pkg/schema"
)

// TelegramSender delivers messages to a lead's Telegram chat.
// The recipient is the numeric chat ID captured on the lead record.
type TelegramSender struct {
	bot *bot.Bot
}

// NewTelegramSender creates a sender backed by the Telegram Bot API.
func NewTelegramSender(token string) (*TelegramSender, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSendFailed, "create telegram bot: %s", err.Error()).WithCause(err)
	}
	return &TelegramSender{bot: b}, nil
}

// Channel returns the channel identifier.
func (s *TelegramSender) Channel() string { return "telegram" }

// Send delivers the rendered body to the recipient chat.
func (s *TelegramSender) Send(ctx context.Context, msg Message) (*SendResult, error) {
	chatID, err := strconv.ParseInt(msg.Recipient, 10, 64)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSendFailed,
			"invalid telegram chat id %q", msg.Recipient).WithCause(err)
	}

	sent, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Body,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSendFailed,
			"telegram send to %q: %s", msg.Recipient, err.Error()).WithCause(err)
	}

	return &SendResult{
		Provider:          "telegram",
		ProviderMessageID: strconv.Itoa(sent.ID),
		ProviderStatus:    "sent",
	}, nil
}

var _ Sender = (*TelegramSender)(nil)
