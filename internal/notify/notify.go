// Package notify consumes rendezvous presence events and posts
// ONLINE/OFFLINE notices to a Slack channel. Adapted wholesale from
// internal/gobgp/handler.go's state-change-consumer shape: one
// goroutine, run as an errgroup member, draining a channel until it
// closes or the context is cancelled, with flap dampening applied
// before any outbound call.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/dantte-lp/rendezvous/internal/rendezvous"
)

// Poster is the narrow Slack surface the handler needs, satisfied by
// *slack.Client. Narrowed for testability, the way internal/gobgp
// depends on its own Client interface rather than the concrete GoBGP
// client.
type Poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// Handler consumes PresenceEvents and posts them to Slack.
type Handler struct {
	poster    Poster
	channelID string
	dampener  *Dampener
	logger    *slog.Logger
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Poster    Poster
	ChannelID string
	Dampening DampeningConfig
	Logger    *slog.Logger
}

// NewHandler creates a presence-notification Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		poster:    cfg.Poster,
		channelID: cfg.ChannelID,
		dampener:  NewDampener(cfg.Dampening, cfg.Logger),
		logger:    cfg.Logger.With(slog.String("component", "notify.handler")),
	}
}

// Run consumes events until ctx is cancelled or events closes. Intended
// as an errgroup member:
//
//	g.Go(func() error { return handler.Run(gCtx, mgr.PresenceEvents()) })
func (h *Handler) Run(ctx context.Context, events <-chan rendezvous.PresenceEvent) error {
	h.logger.Info("handler started, consuming presence events")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("handler stopped")
			return nil

		case ev, ok := <-events:
			if !ok {
				h.logger.Info("presence channel closed, handler stopping")
				return nil
			}
			h.handle(ev)
		}
	}
}

func (h *Handler) handle(ev rendezvous.PresenceEvent) {
	switch ev.Status {
	case rendezvous.StatusOffline:
		if h.dampener.ShouldSuppress(ev.UserID) {
			h.logger.Debug("offline notice suppressed by flap dampening", slog.String("user_id", ev.UserID))
			return
		}
		h.post(fmt.Sprintf(":red_circle: `%s` went offline", ev.UserID))

	case rendezvous.StatusOnline:
		if h.dampener.ShouldSuppressOnline(ev.UserID) {
			h.logger.Debug("online notice suppressed by flap dampening", slog.String("user_id", ev.UserID))
			return
		}
		h.post(fmt.Sprintf(":large_green_circle: `%s` came online", ev.UserID))

	default:
		h.logger.Debug("ignoring unrecognized presence status", slog.String("user_id", ev.UserID))
	}
}

func (h *Handler) post(text string) {
	if h.poster == nil {
		return
	}

	_, _, err := h.poster.PostMessage(h.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		h.logger.Error("failed to post presence notification", slog.String("error", err.Error()))
	}
}
