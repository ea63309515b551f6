package store

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"wplacebot/internal/models"
)

const NotifyFile = "notify.json"

type Notify struct {
	*document[models.NotifyConfig]
}

// NewNotify opens the notify document; defaultChannel fills a missing channel id.
func NewNotify(dir, defaultChannel string) *Notify {
	ensure := func(c *models.NotifyConfig) {
		if c.ChannelID == "" {
			c.ChannelID = defaultChannel
		}
		if c.Rules == nil {
			c.Rules = []models.NotifyRule{}
		}
	}
	return &Notify{&document[models.NotifyConfig]{
		name: NotifyFile,
		path: filepath.Join(dir, NotifyFile),
		empty: func() models.NotifyConfig {
			c := models.NotifyConfig{}
			ensure(&c)
			return c
		},
		fix: ensure,
	}}
}

func (s *Notify) Load() (models.NotifyConfig, error) {
	return s.read()
}

func (s *Notify) ChannelID() (string, error) {
	c, err := s.read()
	return c.ChannelID, err
}

func (s *Notify) SetChannel(channelID string) error {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return fmt.Errorf("%w: channel id is required", ErrInvalidRule)
	}
	return s.update(func(c *models.NotifyConfig) error {
		c.ChannelID = channelID
		return nil
	})
}

// RuleSpec is the user-supplied part of a rule.
type RuleSpec struct {
	Label     string
	Type      models.RuleType
	Minutes   int
	Threshold float64
}

func (spec RuleSpec) build() (models.NotifyRule, error) {
	r := models.NotifyRule{Label: strings.TrimSpace(spec.Label), Type: spec.Type, Enabled: true}
	if r.Label == "" {
		return r, fmt.Errorf("%w: label is required", ErrInvalidRule)
	}
	switch spec.Type {
	case models.RuleFull:
	case models.RuleBeforeFull:
		if spec.Minutes <= 0 {
			return r, fmt.Errorf("%w: minutes must be positive", ErrInvalidRule)
		}
		m := spec.Minutes
		r.Minutes = &m
	case models.RuleThreshold:
		if spec.Threshold < 0 {
			return r, fmt.Errorf("%w: threshold must not be negative", ErrInvalidRule)
		}
		th := spec.Threshold
		r.Threshold = &th
	default:
		return r, fmt.Errorf("%w: unknown type %q", ErrInvalidRule, spec.Type)
	}
	return r, nil
}

// AddRule stores a new rule with empty state, so its first evaluation only
// records a baseline.
func (s *Notify) AddRule(spec RuleSpec) (models.NotifyRule, error) {
	r, err := spec.build()
	if err != nil {
		return r, err
	}
	r.ID = "n-" + uuid.NewString()
	err = s.update(func(c *models.NotifyConfig) error {
		c.Rules = append(c.Rules, r)
		return nil
	})
	return r, err
}

func (s *Notify) RemoveRule(id string) error {
	return s.update(func(c *models.NotifyConfig) error {
		next := make([]models.NotifyRule, 0, len(c.Rules))
		for _, r := range c.Rules {
			if r.ID != id {
				next = append(next, r)
			}
		}
		if len(next) == len(c.Rules) {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
		}
		c.Rules = next
		return nil
	})
}

// Rules lists rules, optionally only those for one label.
func (s *Notify) Rules(label string) ([]models.NotifyRule, error) {
	c, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]models.NotifyRule, 0, len(c.Rules))
	for _, r := range c.Rules {
		if label == "" || r.Label == label {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Notify) SetEnabled(id string, enabled bool) error {
	return s.update(func(c *models.NotifyConfig) error {
		for i := range c.Rules {
			if c.Rules[i].ID == id {
				c.Rules[i].Enabled = enabled
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	})
}

// MergeStates writes evaluated rule states back by rule id. Rules removed
// since the states were computed are left out.
func (s *Notify) MergeStates(states map[string]models.RuleState) error {
	if len(states) == 0 {
		return nil
	}
	return s.update(func(c *models.NotifyConfig) error {
		for i := range c.Rules {
			if st, ok := states[c.Rules[i].ID]; ok {
				c.Rules[i].State = st
			}
		}
		return nil
	})
}
