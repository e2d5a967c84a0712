package media

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/studentpilot/interviewd/internal/bus"
	"github.com/studentpilot/interviewd/internal/config"
	"github.com/studentpilot/interviewd/internal/protocol"
)

func testBus(t *testing.T) *bus.Client {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server did not start")
	}
	t.Cleanup(ns.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{ns.ClientURL()},
		ConnectTimeout: 2000,
	}, slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func testRegistry(t *testing.T, cfg config.MediaConfig) (*Registry, *bus.Client) {
	t.Helper()
	busClient := testBus(t)
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 5000
	}
	r, err := NewRegistry(context.Background(), cfg, busClient,
		slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(r.Close)
	return r, busClient
}

func announceSession(t *testing.T, busClient *bus.Client, sessionID string, video bool) {
	t.Helper()
	payload, err := json.Marshal(protocol.MediaAnnounce{
		SessionID: sessionID,
		Audio:     true,
		Video:     video,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal announce: %v", err)
	}
	if err := busClient.Conn().Publish(protocol.SubjectMediaAnnounce, payload); err != nil {
		t.Fatalf("publish announce: %v", err)
	}
}

func waitTrack(t *testing.T, r *Registry, sessionID string) TrackInfo {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if track, ok := r.Track(sessionID); ok {
			return track
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s was never registered", sessionID)
	return TrackInfo{}
}

func TestAnnounceWithoutVideoPublishesAudioOnlyNotice(t *testing.T) {
	r, busClient := testRegistry(t, config.MediaConfig{})

	sub, err := busClient.Conn().SubscribeSync(protocol.SubjectNotice)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	busClient.Conn().Flush()

	announceSession(t, busClient, "s1", false)

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no notice published: %v", err)
	}
	var notice protocol.Notice
	if err := json.Unmarshal(msg.Data, &notice); err != nil {
		t.Fatalf("unmarshal notice: %v", err)
	}
	if notice.Code != protocol.NoticeAudioOnly {
		t.Fatalf("notice code = %q, want %q", notice.Code, protocol.NoticeAudioOnly)
	}
	if notice.SessionID != "s1" {
		t.Fatalf("notice session = %q, want s1", notice.SessionID)
	}

	track := waitTrack(t, r, "s1")
	if track.Video {
		t.Fatal("session should be registered audio-only")
	}
}

func TestRequireVideoRejectsVideolessAnnounce(t *testing.T) {
	r, busClient := testRegistry(t, config.MediaConfig{RequireVideo: true})

	sub, err := busClient.Conn().SubscribeSync(protocol.SubjectNotice)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	busClient.Conn().Flush()

	announceSession(t, busClient, "s1", false)

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no notice published: %v", err)
	}
	var notice protocol.Notice
	if err := json.Unmarshal(msg.Data, &notice); err != nil {
		t.Fatalf("unmarshal notice: %v", err)
	}
	if notice.Code != protocol.NoticeError {
		t.Fatalf("notice code = %q, want %q", notice.Code, protocol.NoticeError)
	}
	if _, ok := r.Track("s1"); ok {
		t.Fatal("video-less announce must not register when video is required")
	}
}

func TestReleasePublishesStop(t *testing.T) {
	r, busClient := testRegistry(t, config.MediaConfig{})

	sub, err := busClient.Conn().SubscribeSync(protocol.SubjectMediaStop)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	busClient.Conn().Flush()

	announceSession(t, busClient, "s1", true)
	waitTrack(t, r, "s1")

	r.Release("s1")
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no stop published: %v", err)
	}
	var stop protocol.MediaStop
	if err := json.Unmarshal(msg.Data, &stop); err != nil {
		t.Fatalf("unmarshal stop: %v", err)
	}
	if stop.SessionID != "s1" {
		t.Fatalf("stop session = %q, want s1", stop.SessionID)
	}

	// Releasing again is a no-op and must not republish.
	r.Release("s1")
	if msg, err := sub.NextMsg(200 * time.Millisecond); err == nil {
		t.Fatalf("unexpected second stop message: %s", msg.Data)
	}
}
