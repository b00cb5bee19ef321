package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mlbot/internal/logger"
	textutil "mlbot/internal/pkg/text"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// UnsupportedReply answers any inbound message that is not a known command.
const UnsupportedReply = "Sorry, I don't support any commands yet. Chat ID: %d"

// maxMessageRunes is Telegram's message length limit.
const maxMessageRunes = 4096

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram pushes notifications to one chat and answers inbound messages.
type Telegram struct {
	bot        botAPI
	chatID     int64
	attempts   int
	retryDelay time.Duration
}

func NewTelegram(botToken string, chatID int64) (*Telegram, error) {
	if strings.TrimSpace(botToken) == "" || chatID == 0 {
		return nil, errors.New("telegram bot_token and chat_id are required")
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	logger.Infof("[telegram] authorized as @%s", bot.Self.UserName)
	return newTelegram(bot, chatID), nil
}

func newTelegram(bot botAPI, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, attempts: 3, retryDelay: time.Second}
}

// SendText sends a Markdown message, retrying up to three times.
func (t *Telegram) SendText(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, textutil.Truncate(text, maxMessageRunes))
	msg.ParseMode = tgbotapi.ModeMarkdown
	var lastErr error
	for i := 0; i < t.attempts; i++ {
		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < t.attempts-1 {
			time.Sleep(time.Duration(i+1) * t.retryDelay)
		}
	}
	return fmt.Errorf("telegram send: %w", lastErr)
}

func (t *Telegram) SendStructured(m StructuredMessage) error {
	return t.SendText(m.RenderMarkdown())
}

// Listen answers inbound messages until ctx ends. "/status" replies with
// status(); anything else gets UnsupportedReply.
func (t *Telegram) Listen(ctx context.Context, status func() string) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update, status)
		}
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update, status func() string) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	var text string
	if msg.IsCommand() && msg.Command() == "status" && status != nil {
		text = status()
	} else {
		text = fmt.Sprintf(UnsupportedReply, msg.Chat.ID)
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ReplyToMessageID = msg.MessageID
	if _, err := t.bot.Send(reply); err != nil {
		logger.Warnf("[telegram] reply to chat %d failed: %v", msg.Chat.ID, err)
	}
}
