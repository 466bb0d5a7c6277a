package answer

import (
	"answer-bot/internal/chat"
	"answer-bot/internal/testutil"
	"context"
	"strings"
	"sync"
)

type post struct {
	ChatID  int64
	ReplyTo int
	Ref     chat.MessageRef
	Body    chat.Rendered
}

// recordingSink keeps every chat operation for assertions
type recordingSink struct {
	mu      sync.Mutex
	nextID  int
	posts   []post
	updates map[int][]chat.Rendered
	deletes []chat.MessageRef
	postErr error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{nextID: 1000, updates: make(map[int][]chat.Rendered)}
}

func (s *recordingSink) mock() *testutil.MockSink {
	return &testutil.MockSink{
		PostFunc: func(ctx context.Context, chatID int64, replyTo int, body chat.Rendered) (chat.MessageRef, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.postErr != nil {
				return chat.MessageRef{}, s.postErr
			}
			s.nextID++
			ref := chat.MessageRef{ChatID: chatID, MessageID: s.nextID}
			s.posts = append(s.posts, post{ChatID: chatID, ReplyTo: replyTo, Ref: ref, Body: body})
			return ref, nil
		},
		UpdateFunc: func(ctx context.Context, ref chat.MessageRef, body chat.Rendered) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.updates[ref.MessageID] = append(s.updates[ref.MessageID], body)
			return nil
		},
		DeleteFunc: func(ctx context.Context, ref chat.MessageRef) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.deletes = append(s.deletes, ref)
			return nil
		},
	}
}

func (s *recordingSink) Posts() []post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]post(nil), s.posts...)
}

// Links returns the posted link messages
func (s *recordingSink) Links() []post {
	var links []post
	for _, p := range s.Posts() {
		if strings.HasPrefix(p.Body.Text, "🔗") {
			links = append(links, p)
		}
	}
	return links
}

func (s *recordingSink) Updates(messageID int) []chat.Rendered {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Rendered(nil), s.updates[messageID]...)
}

func (s *recordingSink) LastUpdate(messageID int) (chat.Rendered, bool) {
	updates := s.Updates(messageID)
	if len(updates) == 0 {
		return chat.Rendered{}, false
	}
	return updates[len(updates)-1], true
}

func (s *recordingSink) Deleted() []chat.MessageRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.MessageRef(nil), s.deletes...)
}
