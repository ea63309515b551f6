package models

import (
	"errors"
	"time"
)

type Mode string

const (
	ModeCookie Mode = "cookie"
	ModeBearer Mode = "bearer"
)

func (m Mode) Valid() bool {
	return m == ModeCookie || m == ModeBearer
}

// Trust ranks credential modes for deduplication; higher wins.
func (m Mode) Trust() int {
	switch m {
	case ModeBearer:
		return 2
	case ModeCookie:
		return 1
	default:
		return 0
	}
}

type Account struct {
	Label string `json:"label"`
	Token string `json:"token"`
	Mode  Mode   `json:"mode"`
}

type ResolvedMetrics struct {
	Identity      string  `json:"identity,omitempty"`
	DisplayName   string  `json:"displayName"`
	Droplets      int64   `json:"droplets"`
	Level         int     `json:"level"`
	PixelsPainted int64   `json:"pixelsPainted"`
	Current       float64 `json:"paintCurrent"`
	Max           float64 `json:"paintMax"`
}

// Key is the identity used for deduplication.
func (m ResolvedMetrics) Key() string {
	if m.Identity != "" {
		return m.Identity
	}
	return m.DisplayName
}

const MinPanelInterval = 60

type Panel struct {
	ID              string   `json:"id"`
	ChannelID       string   `json:"channelId"`
	MessageID       string   `json:"messageId"`
	Labels          []string `json:"labels"`
	IntervalSeconds int      `json:"intervalSec"`
}

func PanelID(channelID, messageID string) string {
	return channelID + ":" + messageID
}

func (p Panel) Interval() time.Duration {
	sec := p.IntervalSeconds
	if sec < MinPanelInterval {
		sec = MinPanelInterval
	}
	return time.Duration(sec) * time.Second
}

// Shows reports whether the panel displays the given account label.
func (p Panel) Shows(label string) bool {
	if len(p.Labels) == 0 {
		return true
	}
	for _, l := range p.Labels {
		if l == label {
			return true
		}
	}
	return false
}

type RuleType string

const (
	RuleFull       RuleType = "full"
	RuleBeforeFull RuleType = "before_full"
	RuleThreshold  RuleType = "threshold"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleFull, RuleBeforeFull, RuleThreshold:
		return true
	}
	return false
}

type RuleState struct {
	LastObservedCurrent    *float64   `json:"lastPaint"`
	LastObservedEtaSeconds *float64   `json:"lastEtaSec"`
	LastFiredAt            *time.Time `json:"lastFiredAt"`
}

type NotifyRule struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Type      RuleType  `json:"type"`
	Minutes   *int      `json:"minutes"`
	Threshold *float64  `json:"threshold"`
	Enabled   bool      `json:"enabled"`
	State     RuleState `json:"state"`
}

type NotifyConfig struct {
	ChannelID string       `json:"channelId"`
	Rules     []NotifyRule `json:"rules"`
}

// Post is an outgoing message body.
type Post struct {
	Content string
	Embeds  []Embed
}

type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
	Timestamp   time.Time
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type Message struct {
	ID        string
	ChannelID string
	Content   string
	Timestamp time.Time
}

// ErrMessageNotFound is returned by messengers when a message or its channel no longer exists.
var ErrMessageNotFound = errors.New("message not found")

// AlertRecord is one fired rule as kept in the history database.
type AlertRecord struct {
	ID          int64          `json:"id"`
	RuleID      string         `json:"ruleId"`
	Label       string         `json:"label"`
	RuleType    RuleType       `json:"type"`
	Status      string         `json:"status"`
	Summary     string         `json:"summary"`
	Details     map[string]any `json:"details,omitempty"`
	FiredAt     time.Time      `json:"firedAt"`
	DeliveredAt *time.Time     `json:"deliveredAt,omitempty"`
}

// MetricSample is one successful observation of an account.
type MetricSample struct {
	TS            time.Time `json:"ts"`
	Label         string    `json:"label"`
	Identity      string    `json:"identity"`
	Current       float64   `json:"paintCurrent"`
	Max           float64   `json:"paintMax"`
	Droplets      int64     `json:"droplets"`
	Level         int       `json:"level"`
	PixelsPainted int64     `json:"pixelsPainted"`
}
