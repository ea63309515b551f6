// Package panel keeps status messages refreshed on a fixed interval.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"wplacebot/internal/collector"
	"wplacebot/internal/models"
	"wplacebot/internal/schedule"
	"wplacebot/internal/store"
)

type Messenger interface {
	Send(ctx context.Context, channelID string, post models.Post) (models.Message, error)
	Edit(ctx context.Context, channelID, messageID string, post models.Post) (models.Message, error)
}

type Resolver interface {
	Resolve(ctx context.Context, labels []string) ([]collector.Result, error)
}

type Store interface {
	List() ([]models.Panel, error)
	Get(id string) (models.Panel, error)
	Add(p models.Panel) (models.Panel, error)
	Remove(id string) error
	MoveMessage(id, messageID string) (models.Panel, error)
}

// SnapshotRequester asks for a debounced state snapshot.
type SnapshotRequester interface {
	Request(reason string)
}

type Scheduler struct {
	panels   Store
	resolver Resolver
	msg      Messenger
	tasks    *schedule.Scheduler
	snap     SnapshotRequester
	render   Renderer
	log      *slog.Logger
}

func NewScheduler(panels Store, resolver Resolver, msg Messenger, tasks *schedule.Scheduler, snap SnapshotRequester, render Renderer, logger *slog.Logger) *Scheduler {
	return &Scheduler{panels: panels, resolver: resolver, msg: msg, tasks: tasks, snap: snap, render: render, log: logger}
}

// Create posts a new panel message, persists the panel and starts it.
func (s *Scheduler) Create(ctx context.Context, channelID string, labels []string, intervalSec int) (models.Panel, error) {
	if channelID == "" {
		return models.Panel{}, fmt.Errorf("%w: channel is required", store.ErrInvalidPanel)
	}
	msg, err := s.msg.Send(ctx, channelID, models.Post{Content: Content("")})
	if err != nil {
		return models.Panel{}, fmt.Errorf("post panel message: %w", err)
	}
	p, err := s.panels.Add(models.Panel{ChannelID: channelID, MessageID: msg.ID, Labels: labels, IntervalSeconds: intervalSec})
	if err != nil {
		return models.Panel{}, err
	}
	s.snap.Request("panel-start")
	s.Arm(p)
	s.log.Info("panel started", "panel", p.ID, "labels", p.Labels, "interval", p.Interval())
	return p, nil
}

// Arm (re)starts the refresh task for p: one refresh now, then one every interval.
func (s *Scheduler) Arm(p models.Panel) {
	s.tasks.Arm(p.ID, p.Interval(), s.tick)
}

func (s *Scheduler) tick(ctx context.Context, id string) {
	err := s.RunOnce(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrPanelNotFound):
		s.log.Warn("panel vanished, stopping", "panel", id)
		s.tasks.Cancel(id)
	default:
		s.log.Error("panel refresh", "panel", id, "err", err)
	}
}

// Stop cancels a panel's task. It is a no-op for an unknown id.
func (s *Scheduler) Stop(id string) bool {
	return s.tasks.Cancel(id)
}

// Remove stops a panel and deletes it from the collection.
func (s *Scheduler) Remove(id string) error {
	s.Stop(id)
	if err := s.panels.Remove(id); err != nil {
		return err
	}
	s.snap.Request("panel-stop")
	s.log.Info("panel stopped", "panel", id)
	return nil
}

// RunOnce refreshes one panel in place. When its message is gone a new one is
// posted and the panel migrates to it, under a new id.
func (s *Scheduler) RunOnce(ctx context.Context, id string) error {
	p, err := s.panels.Get(id)
	if err != nil {
		return err
	}
	results, err := s.resolver.Resolve(ctx, p.Labels)
	if err != nil {
		return fmt.Errorf("resolve accounts: %w", err)
	}
	embeds := s.render.Embeds(results, true)

	_, err = s.msg.Edit(ctx, p.ChannelID, p.MessageID, models.Post{Content: Content(p.ID), Embeds: embeds})
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrMessageNotFound) {
		return fmt.Errorf("edit panel message: %w", err)
	}

	msg, err := s.msg.Send(ctx, p.ChannelID, models.Post{Content: Content(""), Embeds: embeds})
	if err != nil {
		return fmt.Errorf("repost panel message: %w", err)
	}
	moved, err := s.panels.MoveMessage(p.ID, msg.ID)
	if err != nil {
		return err
	}
	s.tasks.Rekey(p.ID, moved.ID)
	s.snap.Request("panel-msgid-update")
	s.log.Info("panel message recreated", "old", p.ID, "new", moved.ID)

	if _, err := s.msg.Edit(ctx, moved.ChannelID, moved.MessageID, models.Post{Content: Content(moved.ID), Embeds: embeds}); err != nil {
		return fmt.Errorf("edit panel message: %w", err)
	}
	return nil
}

// RefreshForLabel refreshes every panel that shows label, e.g. after its
// credential changed. Failures are logged per panel.
func (s *Scheduler) RefreshForLabel(ctx context.Context, label string) int {
	panels, err := s.panels.List()
	if err != nil {
		s.log.Error("list panels", "err", err)
		return 0
	}
	n := 0
	for _, p := range panels {
		if !p.Shows(label) {
			continue
		}
		if err := s.RunOnce(ctx, p.ID); err != nil {
			s.log.Error("panel refresh", "panel", p.ID, "label", label, "err", err)
			continue
		}
		n++
	}
	return n
}

// Resume arms every persisted panel.
func (s *Scheduler) Resume() (int, error) {
	panels, err := s.panels.List()
	if err != nil {
		return 0, err
	}
	for _, p := range panels {
		s.Arm(p)
	}
	if len(panels) > 0 {
		s.log.Info("panels resumed", "count", len(panels))
	}
	return len(panels), nil
}

// Active lists the ids of panels with a live task.
func (s *Scheduler) Active() []string {
	return s.tasks.Keys()
}

// StopAll cancels every panel task, e.g. before re-arming from a restored collection.
func (s *Scheduler) StopAll() {
	s.tasks.CancelAll()
}
