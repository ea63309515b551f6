package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"wplacebot/internal/models"
)

// maxHistory is the largest page the message history endpoint returns.
const maxHistory = 100

type Discord struct {
	Session *discordgo.Session
}

// NewDiscord builds a REST-only session; no gateway connection is opened.
func NewDiscord(token string) (*Discord, error) {
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Client = &http.Client{Timeout: 15 * time.Second}
	return &Discord{Session: s}, nil
}

func (d *Discord) Send(ctx context.Context, channelID string, post models.Post) (models.Message, error) {
	msg, err := d.Session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: post.Content,
		Embeds:  toEmbeds(post.Embeds),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return models.Message{}, mapErr(err)
	}
	return fromMessage(msg), nil
}

func (d *Discord) Edit(ctx context.Context, channelID, messageID string, post models.Post) (models.Message, error) {
	edit := discordgo.NewMessageEdit(channelID, messageID).
		SetContent(post.Content).
		SetEmbeds(toEmbeds(post.Embeds))
	msg, err := d.Session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	if err != nil {
		return models.Message{}, mapErr(err)
	}
	return fromMessage(msg), nil
}

// Recent returns up to limit messages, newest first.
func (d *Discord) Recent(ctx context.Context, channelID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}
	msgs, err := d.Session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, fromMessage(m))
	}
	return out, nil
}

func (d *Discord) Close() error {
	return d.Session.Close()
}

func mapErr(err error) error {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %s", models.ErrMessageNotFound, rest.Message.Message)
		}
	}
	if rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", models.ErrMessageNotFound, err)
	}
	return err
}

func toEmbeds(in []models.Embed) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(in))
	for _, e := range in {
		me := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			Color:       e.Color,
		}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		if !e.Timestamp.IsZero() {
			me.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
		}
		out = append(out, me)
	}
	return out
}

func fromMessage(m *discordgo.Message) models.Message {
	if m == nil {
		return models.Message{}
	}
	return models.Message{ID: m.ID, ChannelID: m.ChannelID, Content: m.Content, Timestamp: m.Timestamp}
}
