package channels

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/gridhaus/leadflow/pkg/schema"
)

// DiscordSender delivers messages to a lead's Discord channel.
// Sends go over the REST API, so no gateway connection is opened.
type DiscordSender struct {
	session *discordgo.Session
}

// NewDiscordSender creates a sender backed by a Discord bot token.
func NewDiscordSender(token string) (*DiscordSender, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSendFailed, "create discord session: %s", err.Error()).WithCause(err)
	}
	return &DiscordSender{session: session}, nil
}

// Channel returns the channel identifier.
func (s *DiscordSender) Channel() string { return "discord" }

// Send delivers the rendered body to the recipient channel.
func (s *DiscordSender) Send(ctx context.Context, msg Message) (*SendResult, error) {
	sent, err := s.session.ChannelMessageSend(msg.Recipient, msg.Body, discordgo.WithContext(ctx))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSendFailed,
			"discord send to %q: %s", msg.Recipient, err.Error()).WithCause(err)
	}

	return &SendResult{
		Provider:          "discord",
		ProviderMessageID: sent.ID,
		ProviderStatus:    "sent",
	}, nil
}

var _ Sender = (*DiscordSender)(nil)
