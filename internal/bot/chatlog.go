package bot

import (
	"answer-bot/internal/chat"
	"answer-bot/internal/logger"
	"answer-bot/internal/repository/db"
	"answer-bot/internal/service/chatlog"
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	recapPending = "Generating a recap, please wait..."
	recapStamp   = "2006/01/02 15:04"
)

// logMessage records plain text from people into the chat log
func (h *Handlers) logMessage(ctx context.Context, in *chat.Incoming) {
	if h.deps.ChatLog == nil || in.Text == "" || in.UserID == 0 || in.FromBot {
		return
	}
	if strings.HasPrefix(in.Text, "/") {
		return
	}
	err := h.deps.ChatLog.Record(ctx, db.ChatMessage{
		ChatID:    in.ChatID,
		MessageID: in.MessageID,
		UserID:    in.UserID,
		UserName:  in.UserName,
		Content:   in.Text,
		SentAt:    in.SentAt,
	})
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"chat_id": in.ChatID, "message_id": in.MessageID}).WithError(err).Warn("Failed to log message")
	}
}

func (h *Handlers) recap(ctx context.Context, in *chat.Incoming, cmd Command) error {
	r, err := h.deps.ChatLog.Transcript(ctx, in.ChatID, cmd.Args)
	if err != nil {
		return err
	}

	pending, err := h.deps.Sink.Post(ctx, in.ChatID, in.MessageID, chat.RawText(recapPending))
	if err != nil {
		return err
	}
	if err := h.deps.ChatLog.Summarize(ctx, r); err != nil {
		if uerr := h.deps.Sink.Update(context.WithoutCancel(ctx), pending, chat.RawText(ReplyGeneric)); uerr != nil {
			logger.Log.WithField("chat_id", in.ChatID).WithError(uerr).Warn("Failed to replace recap placeholder")
		}
		logger.Log.WithField("chat_id", in.ChatID).WithError(err).Warn("Recap failed")
		return nil
	}
	return h.deps.Sink.Update(ctx, pending, recapBody(r))
}

func recapBody(r *chatlog.Recap) chat.Rendered {
	span := fmt.Sprintf("(%s - %s)", r.From.Format(recapStamp), r.To.Format(recapStamp))
	plain := "👇 Recap 👇 " + span + "\n\n" + r.Text
	body, err := chat.RenderMarkdown(r.Text)
	if err != nil {
		return chat.RawText(chat.ClipText(plain, chat.MessageLimit))
	}
	text := "*👇 Recap 👇 " + chat.EscapeMarkdown(span) + "*\n\n" + body
	if len(text) > chat.MessageLimit {
		return chat.RawText(chat.ClipText(plain, chat.MessageLimit))
	}
	return chat.Rendered{Text: text, ParseMode: chat.ModeMarkdownV2, Fallback: chat.ClipText(plain, chat.MessageLimit)}
}

func (h *Handlers) stats(ctx context.Context, in *chat.Incoming) error {
	stats, err := h.deps.ChatLog.Stats(ctx, in.ChatID)
	if err != nil {
		return err
	}
	_, err = h.deps.Sink.Post(ctx, in.ChatID, in.MessageID, statsBody(stats))
	return err
}

func statsBody(stats *chatlog.Stats) chat.Rendered {
	var days, users strings.Builder
	for _, d := range stats.Days {
		fmt.Fprintf(&days, "%s: %d messages\n", d.Day, d.Count)
	}
	for _, u := range stats.Users {
		fmt.Fprintf(&users, "%s: %d\n", u.UserName, u.Count)
	}
	dayText := strings.TrimRight(days.String(), "\n")
	userText := strings.TrimRight(users.String(), "\n")

	text := "📊 Message stats:\n" + chat.CodeBlock(dayText)
	plain := "📊 Message stats:\n" + dayText
	if userText != "" {
		text += "\nMost active:\n" + chat.CodeBlock(userText)
		plain += "\n\nMost active:\n" + userText
	}
	if len(text) > chat.MessageLimit {
		return chat.RawText(chat.ClipText(plain, chat.MessageLimit))
	}
	return chat.Rendered{Text: text, ParseMode: chat.ModeMarkdownV2, Fallback: chat.ClipText(plain, chat.MessageLimit)}
}

func (h *Handlers) search(ctx context.Context, in *chat.Incoming, cmd Command) error {
	keyword, limit := chatlog.ParseSearchArgs(cmd.Args)
	messages, err := h.deps.ChatLog.Search(ctx, in.ChatID, keyword, limit)
	if err != nil {
		return err
	}
	_, err = h.deps.Sink.Post(ctx, in.ChatID, in.MessageID, searchBody(in.ChatID, messages))
	return err
}

// searchBody lists as many results as fit in one message
func searchBody(chatID int64, messages []db.ChatMessage) chat.Rendered {
	header := fmt.Sprintf("🔍 Search results (%d):", len(messages))
	text := "*" + chat.EscapeMarkdown(header) + "*"
	plain := header
	for _, m := range messages {
		link := chatlog.MessageLink(chatID, m.MessageID)
		item := "\n" + chat.EscapeMarkdown(link) + "\n" + chat.CodeBlock(m.Content)
		plainItem := "\n\n" + link + "\n" + m.Content
		if len(text)+len(item) > chat.MessageLimit {
			break
		}
		text += item
		plain += plainItem
	}
	return chat.Rendered{Text: text, ParseMode: chat.ModeMarkdownV2, Fallback: chat.ClipText(plain, chat.MessageLimit)}
}
