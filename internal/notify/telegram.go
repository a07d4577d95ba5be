package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// chatSender is the part of tgbotapi.BotAPI we use.
type chatSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers alerts to a Telegram chat through a bot.
// The bot is created on first use so startup does not depend on Telegram;
// a failed creation is retried on the next send.
type TelegramSender struct {
	connect func() (chatSender, error)

	mu  sync.Mutex
	bot chatSender
}

// NewTelegramSender returns nil when the bot token is missing, which
// disables the Telegram channel.
func NewTelegramSender(token string, client *http.Client) *TelegramSender {
	if token == "" {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	return newTelegramSender(botConnector(token, tgbotapi.APIEndpoint, client))
}

func newTelegramSender(connect func() (chatSender, error)) *TelegramSender {
	return &TelegramSender{connect: connect}
}

// botConnector authenticates against the Bot API at endpoint (getMe).
func botConnector(token, endpoint string, client *http.Client) func() (chatSender, error) {
	return func() (chatSender, error) {
		bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
		if err != nil {
			return nil, err
		}
		return bot, nil
	}
}

func (s *TelegramSender) Channel() Channel { return ChannelTelegram }

func (s *TelegramSender) Send(ctx context.Context, to string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", to, err)
	}

	bot, err := s.client()
	if err != nil {
		return fmt.Errorf("telegram: init bot: %w", err)
	}

	if _, err := bot.Send(tgbotapi.NewMessage(chatID, msg.Short)); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// client returns the bot, creating it if no earlier attempt succeeded.
func (s *TelegramSender) client() (chatSender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bot != nil {
		return s.bot, nil
	}
	bot, err := s.connect()
	if err != nil {
		return nil, err
	}
	s.bot = bot
	return bot, nil
}
