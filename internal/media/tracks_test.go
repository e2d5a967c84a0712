package media

import (
	"testing"
	"time"
)

func TestAnnounceAndHeartbeat(t *testing.T) {
	ts := newTrackSet()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ts.announce("s1", true, false, base)
	track, ok := ts.get("s1")
	if !ok || !track.Live || !track.Audio || track.Video {
		t.Fatalf("unexpected track state %+v", track)
	}

	if !ts.heartbeat("s1", base.Add(time.Second)) {
		t.Fatal("heartbeat for known session should be accepted")
	}
	if ts.heartbeat("ghost", base) {
		t.Fatal("heartbeat for unknown session should be rejected")
	}
}

func TestExpireMarksStaleTracks(t *testing.T) {
	ts := newTrackSet()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ts.announce("fresh", true, true, base.Add(5*time.Second))
	ts.announce("stale", true, true, base)

	expired := ts.expire(base.Add(6*time.Second), 3*time.Second)
	if len(expired) != 1 || expired[0] != "stale" {
		t.Fatalf("expected only stale session expired, got %v", expired)
	}
	if track, _ := ts.get("stale"); track.Live {
		t.Fatal("expired track should not be live")
	}
	if track, _ := ts.get("fresh"); !track.Live {
		t.Fatal("fresh track should stay live")
	}

	// A second sweep must not report the same session again.
	if expired := ts.expire(base.Add(10*time.Second), 3*time.Second); len(expired) != 1 || expired[0] != "fresh" {
		t.Fatalf("second sweep should only expire fresh, got %v", expired)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	ts := newTrackSet()
	ts.announce("s1", true, false, time.Now())

	ts.release("s1")
	if _, ok := ts.get("s1"); ok {
		t.Fatal("released session should be gone")
	}
	ts.release("s1")
	ts.release("never-announced")

	total, live := ts.counts()
	if total != 0 || live != 0 {
		t.Fatalf("expected empty track set, got total=%d live=%d", total, live)
	}
}

func TestHeartbeatRevivesExpiredTrack(t *testing.T) {
	ts := newTrackSet()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ts.announce("s1", true, false, base)
	ts.expire(base.Add(time.Minute), time.Second)
	if track, _ := ts.get("s1"); track.Live {
		t.Fatal("track should be expired")
	}

	ts.heartbeat("s1", base.Add(2*time.Minute))
	if track, _ := ts.get("s1"); !track.Live {
		t.Fatal("heartbeat should revive the track")
	}
}

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	first, cancelFirst := b.Subscribe(4)
	second, cancelSecond := b.Subscribe(4)
	defer cancelSecond()

	b.Publish([]byte{1})
	b.Publish([]byte{2})

	for _, ch := range []<-chan []byte{first, second} {
		if got := <-ch; got[0] != 1 {
			t.Fatalf("expected frame 1, got %v", got)
		}
		if got := <-ch; got[0] != 2 {
			t.Fatalf("expected frame 2, got %v", got)
		}
	}

	cancelFirst()
	b.Publish([]byte{3})
	if got := <-second; got[0] != 3 {
		t.Fatalf("remaining subscriber should still receive, got %v", got)
	}
	if _, ok := <-first; ok {
		t.Fatal("cancelled subscriber channel should be closed")
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish([]byte{1})
	b.Publish([]byte{2}) // dropped, buffer full

	if got := <-ch; got[0] != 1 {
		t.Fatalf("expected first frame, got %v", got)
	}
	select {
	case frame := <-ch:
		t.Fatalf("second frame should have been dropped, got %v", frame)
	default:
	}
}
