package panel

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"wplacebot/internal/collector"
	"wplacebot/internal/models"
	"wplacebot/internal/recovery"
	"wplacebot/internal/wplace"
)

const (
	ColorBlurple = 0x5865F2
	ColorRed     = 0xED4245
	ColorGrey    = 0x95A5A6
)

// Renderer turns resolver results into embeds. Location controls how the
// full-at time is shown.
type Renderer struct {
	Location *time.Location
	now      func() time.Time
}

func NewRenderer(loc *time.Location, now func() time.Time) Renderer {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return Renderer{Location: loc, now: now}
}

// Embeds renders one embed per result. With hideErrors, failed accounts are
// left out so one bad credential does not blank the whole panel.
func (r Renderer) Embeds(results []collector.Result, hideErrors bool) []models.Embed {
	now := r.now()
	out := make([]models.Embed, 0, len(results))
	for _, res := range results {
		if res.OK() {
			out = append(out, r.account(res, now))
			continue
		}
		if hideErrors {
			continue
		}
		status, detail := wplace.Describe(res.Err)
		if detail == "" {
			detail = "(no detail)"
		}
		out = append(out, models.Embed{
			Title: "Fetch failed: " + res.Account.Label,
			Color: ColorRed,
			Fields: []models.EmbedField{
				{Name: "Status", Value: status, Inline: true},
				{Name: "Detail", Value: detail},
			},
		})
	}
	if len(out) == 0 {
		out = append(out, models.Embed{
			Title:       "No accounts to show",
			Description: "No account resolved successfully, or none are registered.",
			Color:       ColorGrey,
			Timestamp:   now,
		})
	}
	return out
}

func (r Renderer) account(res collector.Result, now time.Time) models.Embed {
	m := res.Metrics
	p := recovery.Project(m.Current, m.Max, now)
	fullIn, fullAt := "Full", "-"
	if !p.Full() {
		fullIn = fmt.Sprintf("%s (%s left)", FormatDuration(p.ETA), number(p.Missing))
		fullAt = FormatClock(p.FullAt, r.Location)
	}
	return models.Embed{
		Title: "Wplace: " + res.Account.Label,
		Color: ColorBlurple,
		Fields: []models.EmbedField{
			{Name: "Account", Value: m.DisplayName, Inline: true},
			{Name: "Droplets", Value: humanize.Comma(m.Droplets), Inline: true},
			{Name: "Paint", Value: number(m.Current) + " / " + number(m.Max), Inline: true},
			{Name: "Level", Value: fmt.Sprintf("%d", m.Level), Inline: true},
			{Name: "To next level", Value: humanize.Comma(recovery.NextLevelPixels(m.Level, m.PixelsPainted)) + " px", Inline: true},
			{Name: "Full in", Value: fullIn, Inline: true},
			{Name: "Full at", Value: fullAt, Inline: true},
		},
		Footer:    "mode: " + string(res.Account.Mode),
		Timestamp: now,
	}
}

// Content is the plain text line above a panel's embeds.
func Content(panelID string) string {
	if panelID == "" {
		return "Wplace panel (preparing)"
	}
	return "Wplace panel (" + panelID + ")"
}

// FormatDuration renders d as days, hours and minutes. Seconds are shown
// only when the duration is under an hour.
func FormatDuration(d time.Duration) string {
	s := int64(d / time.Second)
	if s < 0 {
		s = 0
	}
	days, s := s/86400, s%86400
	hours, s := s/3600, s%3600
	mins, secs := s/60, s%60
	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if mins > 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	switch {
	case len(parts) == 0:
		parts = append(parts, fmt.Sprintf("%ds", secs))
	case secs > 0 && days == 0 && hours == 0:
		parts = append(parts, fmt.Sprintf("%ds", secs))
	}
	return strings.Join(parts, " ")
}

// FormatClock renders t to the minute in loc, suffixed with the zone abbreviation.
func FormatClock(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006/01/02 15:04 MST")
}

func number(v float64) string {
	if v == float64(int64(v)) {
		return humanize.Comma(int64(v))
	}
	return humanize.CommafWithDigits(v, 2)
}
