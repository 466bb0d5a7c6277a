package chatlog

import (
	"answer-bot/internal/config"
	"answer-bot/internal/logger"
	"answer-bot/internal/repository/db"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultSearchLimit is used when /search gets no count
	DefaultSearchLimit = 10
	maxSearchLimit     = 50
	topUsers           = 10
	pruneInterval      = time.Hour
)

// DefaultRecapPrompt is the system prompt used for /summary recaps
const DefaultRecapPrompt = `Summarize the chat log below: the topics that were discussed, the notable messages and the main points of view.
Put usernames in bold when you refer to them. Reply with the content only, without a preamble or a title.`

var (
	ErrBadWindow        = errors.New("unsupported time window")
	ErrNoMessages       = errors.New("no messages found")
	ErrNoKeyword        = errors.New("search keyword is empty")
	ErrRecapUnavailable = errors.New("no recap provider configured")
)

var windowPattern = regexp.MustCompile(`^(\d+)([dhm])$`)

// Summarizer turns a transcript into a recap
type Summarizer interface {
	Summarize(ctx context.Context, document string) (string, error)
}

// Recap is a chat transcript over a time window and, once summarized, its recap
type Recap struct {
	ChatID     int64
	From       time.Time
	To         time.Time
	Messages   int
	Transcript string
	Text       string
}

// Stats is the message activity of one chat
type Stats struct {
	Days  []db.DayCount
	Users []db.UserCount
}

// ChatLogService records group messages and answers recap, stats and search requests
type ChatLogService struct {
	store db.MessageLog
	recap Summarizer
	cfg   config.ChatLogConfig
	now   func() time.Time

	mu        sync.Mutex
	lastPrune time.Time
}

// NewChatLogService creates a new ChatLogService. recap may be nil, which disables recaps.
func NewChatLogService(store db.MessageLog, recap Summarizer, cfg config.ChatLogConfig) *ChatLogService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &ChatLogService{store: store, recap: recap, cfg: cfg, now: time.Now}
}

// Record stores one message and prunes expired messages at most once per interval
func (s *ChatLogService) Record(ctx context.Context, m db.ChatMessage) error {
	if m.SentAt.IsZero() {
		m.SentAt = s.now()
	}
	if err := s.store.AddMessage(ctx, m); err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	s.prune(ctx)
	return nil
}

func (s *ChatLogService) prune(ctx context.Context) {
	if s.cfg.Retention <= 0 {
		return
	}
	now := s.now()
	s.mu.Lock()
	if now.Sub(s.lastPrune) < pruneInterval {
		s.mu.Unlock()
		return
	}
	s.lastPrune = now
	s.mu.Unlock()

	removed, err := s.store.PruneMessages(ctx, now.Add(-s.cfg.Retention))
	if err != nil {
		logger.Log.WithError(err).Warn("Failed to prune chat log")
		return
	}
	if removed > 0 {
		logger.Log.WithField("removed", removed).Info("Pruned chat log")
	}
}

// ParseWindow resolves "today" (or an empty window) to local midnight and
// "<n>d", "<n>h" or "<n>m" to that long before now.
func ParseWindow(window string, now time.Time, loc *time.Location) (time.Time, error) {
	window = strings.ToLower(strings.TrimSpace(window))
	now = now.In(loc)
	if window == "" || window == "today" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}

	match := windowPattern.FindStringSubmatch(window)
	if match == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadWindow, window)
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadWindow, window)
	}
	unit := map[string]time.Duration{"d": 24 * time.Hour, "h": time.Hour, "m": time.Minute}[match[2]]
	return now.Add(-time.Duration(n) * unit), nil
}

// CanRecap reports whether a recap provider is configured
func (s *ChatLogService) CanRecap() bool {
	return s.recap != nil
}

// Transcript collects the messages of a window without calling the model
func (s *ChatLogService) Transcript(ctx context.Context, chatID int64, window string) (*Recap, error) {
	if s.recap == nil {
		return nil, ErrRecapUnavailable
	}
	now := s.now().In(s.cfg.Location)
	since, err := ParseWindow(window, now, s.cfg.Location)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.MessagesSince(ctx, chatID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat log: %w", err)
	}
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}

	return &Recap{
		ChatID:     chatID,
		From:       since,
		To:         now,
		Messages:   len(messages),
		Transcript: s.transcript(messages),
	}, nil
}

// transcript formats messages one per line, dropping the oldest lines past the byte limit
func (s *ChatLogService) transcript(messages []db.ChatMessage) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = fmt.Sprintf("%s - @%s: %s", m.SentAt.In(s.cfg.Location).Format(time.RFC3339), m.UserName, m.Content)
	}

	start, size := len(lines), 0
	for start > 0 {
		next := size + len(lines[start-1]) + 1
		if s.cfg.MaxTranscriptBytes > 0 && next > s.cfg.MaxTranscriptBytes && start < len(lines) {
			break
		}
		size = next
		start--
	}
	return "--- Messages Start ---\n" + strings.Join(lines[start:], "\n") + "\n--- Messages End ---"
}

// Summarize asks the recap provider for a recap of r
func (s *ChatLogService) Summarize(ctx context.Context, r *Recap) error {
	logger.Log.WithFields(logrus.Fields{
		"chat_id":  r.ChatID,
		"messages": r.Messages,
		"from":     r.From.Format(time.RFC3339),
	}).Info("Generating chat recap")

	text, err := s.recap.Summarize(ctx, r.Transcript)
	if err != nil {
		return fmt.Errorf("failed to generate recap: %w", err)
	}
	r.Text = text
	return nil
}

// Stats returns daily message counts and the most active users of a chat
func (s *ChatLogService) Stats(ctx context.Context, chatID int64) (*Stats, error) {
	days, err := s.store.DailyCounts(ctx, chatID, s.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	if len(days) == 0 {
		return nil, ErrNoMessages
	}
	users, err := s.store.TopUsers(ctx, chatID, topUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to load user stats: %w", err)
	}
	return &Stats{Days: days, Users: users}, nil
}

// Search returns up to limit messages containing keyword, newest first.
// Non-positive limits use DefaultSearchLimit.
func (s *ChatLogService) Search(ctx context.Context, chatID int64, keyword string, limit int) ([]db.ChatMessage, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, ErrNoKeyword
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	messages, err := s.store.SearchMessages(ctx, chatID, keyword, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search chat log: %w", err)
	}
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}
	return messages, nil
}

// ParseSearchArgs splits "/search" arguments into a keyword and an optional trailing count
func ParseSearchArgs(args string) (string, int) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", 0
	}
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[len(fields)-1]); err == nil && n > 0 {
			return strings.Join(fields[:len(fields)-1], " "), n
		}
	}
	return strings.Join(fields, " "), 0
}

// MessageLink is the public link to a message in a supergroup
func MessageLink(chatID int64, messageID int) string {
	id := strconv.FormatInt(chatID, 10)
	id = strings.TrimPrefix(id, "-100")
	id = strings.TrimPrefix(id, "-")
	return fmt.Sprintf("https://t.me/c/%s/%d", id, messageID)
}
