package policy

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/nbd-wtf/go-nostr"

	"relay-warden/config"
)

// Pipeline runs the filters in precedence order: the first non-accept
// verdict terminates evaluation. Deny-list checks run before allow-list
// gating, which runs before rate and content checks, so a banned identity
// can never be readmitted by a stale allow-list entry and unauthorized
// traffic never consumes rate budget.
type Pipeline struct {
	stages          []Filter
	rejectionLevels map[string]config.LogLevel
	metrics         MetricsCollector
}

func NewPipeline(cfg *config.Config, stages []Filter, metrics MetricsCollector) *Pipeline {
	return &Pipeline{
		stages:          stages,
		rejectionLevels: cfg.Log.RejectionLevels,
		metrics:         metrics,
	}
}

// ProcessEvent renders exactly one verdict for one event. An unexpected
// internal fault fails closed: the event is rejected, never accepted.
func (p *Pipeline) ProcessEvent(ctx context.Context, event *nostr.Event, remoteIP string, dryRun bool) (response PolicyResponse) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic recovered in filter pipeline",
				"panic", r, "event_id", event.ID, "pubkey", event.PubKey, "stack", string(debug.Stack()),
			)
			response = PolicyResponse{ID: event.ID, Action: ActionReject, Msg: "internal: an unexpected error occurred"}
			if p.metrics != nil {
				p.metrics.ObserveDecision(ActionReject, "internal")
			}
		}
	}()

	for _, stage := range p.stages {
		res := stage.Check(ctx, event, remoteIP)
		if res == nil || res.Action == ActionAccept {
			continue
		}

		logAttrs := []slog.Attr{
			slog.String("filter_name", stage.Name()),
			slog.String("remote_ip", remoteIP),
			slog.String("event_id", event.ID),
			slog.Int("kind", event.Kind),
			slog.String("pubkey", event.PubKey),
			slog.String("action", res.Action),
			slog.String("reason", res.Msg),
		}
		logLevel := slog.LevelWarn
		if level, ok := p.rejectionLevels[stage.Name()]; ok {
			logLevel = level.ToSlogLevel()
		}
		slog.LogAttrs(ctx, logLevel, "Event blocked by filter", logAttrs...)

		if dryRun {
			slog.LogAttrs(ctx, slog.LevelInfo, "Dry-run: event would be blocked", logAttrs...)
			return PolicyResponse{ID: event.ID, Action: ActionAccept}
		}

		if p.metrics != nil {
			p.metrics.ObserveDecision(res.Action, stage.Name())
		}
		return PolicyResponse{ID: event.ID, Action: res.Action, Msg: res.Msg}
	}

	slog.Debug("Event accepted by all filters", "event_id", event.ID, "pubkey", event.PubKey)
	if p.metrics != nil {
		p.metrics.ObserveDecision(ActionAccept, "")
	}
	return PolicyResponse{ID: event.ID, Action: ActionAccept}
}
