package store

import (
	"fmt"
	"path/filepath"

	"wplacebot/internal/models"
)

const PanelsFile = "panels.json"

type Panels struct {
	*document[[]models.Panel]
}

func NewPanels(dir string) *Panels {
	return &Panels{&document[[]models.Panel]{
		name:  PanelsFile,
		path:  filepath.Join(dir, PanelsFile),
		empty: func() []models.Panel { return []models.Panel{} },
		fix: func(ps *[]models.Panel) {
			for i := range *ps {
				clampInterval(&(*ps)[i])
			}
		},
	}}
}

func clampInterval(p *models.Panel) {
	if p.IntervalSeconds < models.MinPanelInterval {
		p.IntervalSeconds = models.MinPanelInterval
	}
}

func (s *Panels) List() ([]models.Panel, error) {
	return s.read()
}

func (s *Panels) Get(id string) (models.Panel, error) {
	all, err := s.read()
	if err != nil {
		return models.Panel{}, err
	}
	for _, p := range all {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Panel{}, fmt.Errorf("%w: %s", ErrPanelNotFound, id)
}

func (s *Panels) Add(p models.Panel) (models.Panel, error) {
	if p.ChannelID == "" || p.MessageID == "" {
		return p, fmt.Errorf("%w: channel and message are required", ErrInvalidPanel)
	}
	p.ID = models.PanelID(p.ChannelID, p.MessageID)
	clampInterval(&p)
	err := s.update(func(all *[]models.Panel) error {
		for _, existing := range *all {
			if existing.ID == p.ID {
				return fmt.Errorf("%w: duplicate id %s", ErrInvalidPanel, p.ID)
			}
		}
		*all = append(*all, p)
		return nil
	})
	return p, err
}

func (s *Panels) Remove(id string) error {
	return s.update(func(all *[]models.Panel) error {
		next := make([]models.Panel, 0, len(*all))
		for _, p := range *all {
			if p.ID != id {
				next = append(next, p)
			}
		}
		if len(next) == len(*all) {
			return fmt.Errorf("%w: %s", ErrPanelNotFound, id)
		}
		*all = next
		return nil
	})
}

// MoveMessage points a panel at a new display message. The panel's id embeds
// the message id, so it changes too; the panel keeps its position.
func (s *Panels) MoveMessage(id, messageID string) (models.Panel, error) {
	var moved models.Panel
	err := s.update(func(all *[]models.Panel) error {
		for i := range *all {
			p := &(*all)[i]
			if p.ID != id {
				continue
			}
			p.MessageID = messageID
			p.ID = models.PanelID(p.ChannelID, messageID)
			moved = *p
			return nil
		}
		return fmt.Errorf("%w: %s", ErrPanelNotFound, id)
	})
	return moved, err
}
