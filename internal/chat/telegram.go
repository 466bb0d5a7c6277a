package chat

import (
	"answer-bot/internal/logger"
	"answer-bot/internal/service/llm"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const maxImageBytes = 20 << 20

// BotAPI is the subset of the Telegram client used by the sink
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TelegramSink delivers messages through the Telegram Bot API
type TelegramSink struct {
	bot        BotAPI
	httpClient *http.Client
}

// NewTelegramSink wraps a bot client
func NewTelegramSink(bot BotAPI, httpClient *http.Client) *TelegramSink {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &TelegramSink{bot: bot, httpClient: httpClient}
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

// Post sends a new message, retrying with the fallback text when the markdown is rejected
func (s *TelegramSink) Post(ctx context.Context, chatID int64, replyTo int, body Rendered) (MessageRef, error) {
	msg := tgbotapi.NewMessage(chatID, body.Text)
	msg.ReplyToMessageID = replyTo
	msg.ParseMode = body.ParseMode
	msg.DisableWebPagePreview = true

	sent, err := s.bot.Send(msg)
	if err != nil && body.ParseMode != "" && body.Fallback != "" {
		logger.Log.WithField("chat_id", chatID).WithError(err).Warn("Markdown rejected, sending raw text")
		msg.Text = body.Fallback
		msg.ParseMode = ""
		sent, err = s.bot.Send(msg)
	}
	if err != nil {
		return MessageRef{}, fmt.Errorf("failed to post message: %w", err)
	}
	return MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// Update replaces the text of a posted message
func (s *TelegramSink) Update(ctx context.Context, ref MessageRef, body Rendered) error {
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, body.Text)
	edit.ParseMode = body.ParseMode
	edit.DisableWebPagePreview = true

	_, err := s.bot.Request(edit)
	if isNotModified(err) {
		return nil
	}
	if err != nil && body.ParseMode != "" && body.Fallback != "" {
		logger.Log.WithFields(logrus.Fields{
			"chat_id":    ref.ChatID,
			"message_id": ref.MessageID,
		}).WithError(err).Warn("Markdown rejected, editing with raw text")
		edit.Text = body.Fallback
		edit.ParseMode = ""
		_, err = s.bot.Request(edit)
		if isNotModified(err) {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}

// Delete removes a posted message
func (s *TelegramSink) Delete(ctx context.Context, ref MessageRef) error {
	if _, err := s.bot.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// LoadImage downloads a photo by file id
func (s *TelegramSink) LoadImage(ctx context.Context, fileID string) (*llm.Image, error) {
	url, err := s.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return &llm.Image{Data: data, MIMEType: mime}, nil
}

// Incoming is a chat message received by the bot
type Incoming struct {
	ChatID      int64
	UserID      int64
	UserName    string
	FromBot     bool
	MessageID   int
	SentAt      time.Time
	Text        string
	Caption     string
	PhotoFileID string
	ReplyTo     *Incoming
}

// displayName prefers the public username over the full name
func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Body returns the text or, for photos, the caption
func (m *Incoming) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// FromTelegram converts a transport message
func FromTelegram(m *tgbotapi.Message) *Incoming {
	if m == nil || m.Chat == nil {
		return nil
	}
	in := &Incoming{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		SentAt:    m.Time(),
		Text:      m.Text,
		Caption:   m.Caption,
	}
	if m.From != nil {
		in.UserID = m.From.ID
		in.UserName = displayName(m.From)
		in.FromBot = m.From.IsBot
	}
	if len(m.Photo) > 0 {
		// sizes are ordered smallest first
		in.PhotoFileID = m.Photo[len(m.Photo)-1].FileID
	}
	if m.ReplyToMessage != nil {
		in.ReplyTo = FromTelegram(m.ReplyToMessage)
	}
	return in
}

// Updates streams incoming messages until ctx is cancelled
func (s *TelegramSink) Updates(ctx context.Context, pollTimeout int) <-chan *Incoming {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	updates := s.bot.GetUpdatesChan(cfg)

	out := make(chan *Incoming)
	go func() {
		defer close(out)
		defer s.bot.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				msg := u.Message
				if msg == nil {
					msg = u.EditedMessage
				}
				in := FromTelegram(msg)
				if in == nil {
					continue
				}
				select {
				case out <- in:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Command is a chat command advertised to users
type Command struct {
	Name        string
	Description string
}

// RegisterCommands publishes the command list shown by chat clients
func (s *TelegramSink) RegisterCommands(commands []Command) error {
	var botCommands []tgbotapi.BotCommand
	for _, c := range commands {
		botCommands = append(botCommands, tgbotapi.BotCommand{Command: c.Name, Description: c.Description})
	}
	if _, err := s.bot.Request(tgbotapi.NewSetMyCommands(botCommands...)); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	return nil
}
