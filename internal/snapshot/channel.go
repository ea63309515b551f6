package snapshot

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"wplacebot/internal/models"
)

const (
	Marker              = "[WPLACE_STATE]"
	DefaultHistoryLimit = 50
	// maxContent is the platform's message length limit.
	maxContent = 2000
)

var jsonBlock = regexp.MustCompile("```json\\s*([\\s\\S]*?)\\s*```")

type ChannelMessenger interface {
	Send(ctx context.Context, channelID string, post models.Post) (models.Message, error)
	Recent(ctx context.Context, channelID string, limit int) ([]models.Message, error)
}

// ChannelBackend keeps snapshots as tagged messages in a chat channel.
type ChannelBackend struct {
	msg       ChannelMessenger
	channelID string
	limit     int
}

func NewChannelBackend(msg ChannelMessenger, channelID string, limit int) *ChannelBackend {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &ChannelBackend{msg: msg, channelID: channelID, limit: limit}
}

func (b *ChannelBackend) Put(ctx context.Context, doc []byte) error {
	content := Encode(doc)
	if n := len([]rune(content)); n > maxContent {
		return fmt.Errorf("%w: %d characters, limit is %d", ErrTooLarge, n, maxContent)
	}
	_, err := b.msg.Send(ctx, b.channelID, models.Post{Content: content})
	return err
}

// Latest scans recent history newest first and decodes the first tagged
// message it meets. Older snapshots are not consulted.
func (b *ChannelBackend) Latest(ctx context.Context) ([]byte, error) {
	msgs, err := b.msg.Recent(ctx, b.channelID, b.limit)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	for _, m := range msgs {
		if !strings.Contains(m.Content, Marker) {
			continue
		}
		doc, ok := Decode(m.Content)
		if !ok {
			return nil, fmt.Errorf("%w: no json block in message %s", ErrMalformed, m.ID)
		}
		return doc, nil
	}
	return nil, ErrNoSnapshot
}

// Encode wraps doc in the tagged fenced block. Backticks inside JSON strings
// are escaped so they cannot close the fence.
func Encode(doc []byte) string {
	body := strings.ReplaceAll(string(doc), "`", `\u0060`)
	return "# " + Marker + "\n```json\n" + body + "\n```"
}

func Decode(content string) ([]byte, bool) {
	m := jsonBlock.FindStringSubmatch(content)
	if m == nil {
		return nil, false
	}
	return []byte(m[1]), true
}
