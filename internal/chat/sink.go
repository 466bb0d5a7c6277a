package chat

import (
	"answer-bot/internal/service/llm"
	"context"
	"fmt"
)

// MessageRef identifies a message posted by the bot
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Sink posts, edits and deletes chat messages
type Sink interface {
	Post(ctx context.Context, chatID int64, replyTo int, body Rendered) (MessageRef, error)
	Update(ctx context.Context, ref MessageRef, body Rendered) error
	Delete(ctx context.Context, ref MessageRef) error
}

// ImageLoader downloads an image attached to an incoming message
type ImageLoader interface {
	LoadImage(ctx context.Context, fileID string) (*llm.Image, error)
}

// UpdateSplit replaces ref with an answer attributed to who. Answers longer
// than the message limit are split: the first part replaces ref and the rest
// are posted as replies to replyTo.
func UpdateSplit(ctx context.Context, sink Sink, ref MessageRef, replyTo int, who, text string) error {
	parts := SplitText(text, MessageLimit)
	if len(parts) == 1 {
		return sink.Update(ctx, ref, TryRender(who, text))
	}
	for i, part := range parts {
		body := tryRender(who, fmt.Sprintf(" [%d/%d]", i+1, len(parts)), part)
		if i == 0 {
			if err := sink.Update(ctx, ref, body); err != nil {
				return err
			}
			continue
		}
		if _, err := sink.Post(ctx, ref.ChatID, replyTo, body); err != nil {
			return err
		}
	}
	return nil
}

// PostText posts plain text, splitting it when it exceeds the message limit.
// The reference of the first part is returned.
func PostText(ctx context.Context, sink Sink, chatID int64, replyTo int, text string) (MessageRef, error) {
	var first MessageRef
	parts := SplitText(text, MessageLimit)
	for i, part := range parts {
		if len(parts) > 1 {
			part = fmt.Sprintf("[%d/%d]\n%s", i+1, len(parts), part)
		}
		ref, err := sink.Post(ctx, chatID, replyTo, RawText(part))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = ref
		}
	}
	return first, nil
}
