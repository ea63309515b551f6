package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"wplacebot/internal/models"
)

// Telegram mirrors alert posts to a Telegram chat as plain text.
type Telegram struct {
	BaseURL string
	HTTP    *http.Client

	mu     sync.RWMutex
	token  string
	chatID string
}

func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		token:   token,
		chatID:  chatID,
		BaseURL: "https://api.telegram.org",
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Enabled() bool {
	token, chatID := t.credentials()
	return token != "" && chatID != ""
}

func (t *Telegram) Update(token, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
	t.chatID = chatID
}

func (t *Telegram) credentials() (string, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token, t.chatID
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Mirror(ctx context.Context, post models.Post) error {
	token, chatID := t.credentials()
	if token == "" || chatID == "" {
		return fmt.Errorf("telegram not configured")
	}
	payload := map[string]any{"chat_id": chatID, "text": PlainText(post), "disable_web_page_preview": true}
	b, _ := json.Marshal(payload)
	u := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.BaseURL, "/"), token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := t.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	resp, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d: %s", res.StatusCode, string(resp))
	}
	return nil
}

// PlainText flattens a post and its embeds into readable lines.
func PlainText(post models.Post) string {
	var b strings.Builder
	if post.Content != "" {
		b.WriteString(post.Content)
	}
	for _, e := range post.Embeds {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		if e.Title != "" {
			b.WriteString(e.Title)
			b.WriteString("\n")
		}
		if e.Description != "" {
			b.WriteString(e.Description)
			b.WriteString("\n")
		}
		for _, f := range e.Fields {
			fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
