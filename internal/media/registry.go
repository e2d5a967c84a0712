package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/studentpilot/interviewd/internal/bus"
	"github.com/studentpilot/interviewd/internal/config"
	"github.com/studentpilot/interviewd/internal/protocol"
)

// Registry tracks the capture tracks edge clients hold open per session:
// which sessions have a live microphone, whether video came up, and when
// a client went quiet. Sessions missing video run in audio-only degraded
// mode unless the operator requires a camera.
type Registry struct {
	cfg    config.MediaConfig
	log    *slog.Logger
	bus    *bus.Client
	tracks *trackSet
	cancel context.CancelFunc
	subs   []*nats.Subscription

	meter      metric.Meter
	trackGauge metric.Int64ObservableGauge
	liveGauge  metric.Int64ObservableGauge
}

func NewRegistry(ctx context.Context, cfg config.MediaConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		log:    log.With(slog.String("component", "media-registry")),
		bus:    busClient,
		tracks: newTrackSet(),
		meter:  otel.Meter("github.com/studentpilot/interviewd/runtime"),
		cancel: cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	go r.monitorLiveness(ctx)

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectMediaAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe media announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectMediaHeartbeat, r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe media heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return nil
}

func (r *Registry) monitorLiveness(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sessionID := range r.tracks.expire(time.Now(), timeout) {
				r.log.Warn("capture tracks went stale", slog.String("session", sessionID))
			}
		}
	}
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announce protocol.MediaAnnounce
	if err := json.Unmarshal(msg.Data, &announce); err != nil {
		r.log.Warn("invalid media announce", slog.String("error", err.Error()))
		return
	}
	if announce.Timestamp.IsZero() {
		announce.Timestamp = time.Now().UTC()
	}
	if !announce.Audio {
		r.log.Warn("announce without audio track rejected", slog.String("session", announce.SessionID))
		return
	}
	if !announce.Video {
		r.log.Warn("no video track announced", slog.String("session", announce.SessionID))
		if r.cfg.RequireVideo {
			r.publishNotice(announce.SessionID, protocol.NoticeError,
				"camera required but unavailable")
			return
		}
		r.publishNotice(announce.SessionID, protocol.NoticeAudioOnly,
			"camera unavailable; continuing in audio-only mode")
	}
	r.tracks.announce(announce.SessionID, announce.Audio, announce.Video, announce.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.MediaHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid media heartbeat", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	if !r.tracks.heartbeat(hb.SessionID, hb.Timestamp) {
		r.log.Debug("heartbeat for unknown session", slog.String("session", hb.SessionID))
	}
}

// Release tears down a session's tracks and tells the client to stop
// capturing. Safe to call repeatedly and for unknown sessions.
func (r *Registry) Release(sessionID string) {
	if _, ok := r.tracks.get(sessionID); !ok {
		return
	}
	r.tracks.release(sessionID)

	payload, err := json.Marshal(protocol.MediaStop{SessionID: sessionID, Timestamp: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := r.bus.Conn().Publish(protocol.SubjectMediaStop, payload); err != nil {
		r.log.Warn("failed to publish media stop", slog.String("error", err.Error()))
	}
}

// Live reports whether a session has fresh capture tracks.
func (r *Registry) Live(sessionID string) bool {
	track, ok := r.tracks.get(sessionID)
	return ok && track.Live
}

// Track returns the recorded capture state for a session.
func (r *Registry) Track(sessionID string) (TrackInfo, bool) {
	return r.tracks.get(sessionID)
}

func (r *Registry) publishNotice(sessionID, code, message string) {
	payload, err := json.Marshal(protocol.Notice{SessionID: sessionID, Code: code, Message: message})
	if err != nil {
		return
	}
	if err := r.bus.Conn().Publish(protocol.SubjectNotice, payload); err != nil {
		r.log.Warn("failed to publish notice", slog.String("error", err.Error()))
	}
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	trackGauge, err := r.meter.Int64ObservableGauge("interviewd.media.tracks",
		metric.WithDescription("Number of known capture track sets"))
	if err != nil {
		return err
	}
	liveGauge, err := r.meter.Int64ObservableGauge("interviewd.media.live",
		metric.WithDescription("Capture track sets with a fresh heartbeat"))
	if err != nil {
		return err
	}
	r.trackGauge = trackGauge
	r.liveGauge = liveGauge
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		total, live := r.tracks.counts()
		obs.ObserveInt64(trackGauge, total)
		obs.ObserveInt64(liveGauge, live)
		return nil
	}, trackGauge, liveGauge)
	return err
}
