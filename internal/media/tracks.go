package media

import (
	"sync"
	"time"
)

// TrackInfo is the recorded capture state for one session's edge client.
type TrackInfo struct {
	SessionID string
	Audio     bool
	Video     bool
	LastSeen  time.Time
	Live      bool
}

// trackSet holds per-session capture state. It is plain state with no
// bus wiring so the staleness and release rules stay testable.
type trackSet struct {
	mu     sync.RWMutex
	tracks map[string]*TrackInfo
}

func newTrackSet() *trackSet {
	return &trackSet{tracks: make(map[string]*TrackInfo)}
}

// announce records or refreshes a session's tracks.
func (t *trackSet) announce(sessionID string, audio, video bool, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	track, ok := t.tracks[sessionID]
	if !ok {
		track = &TrackInfo{SessionID: sessionID}
		t.tracks[sessionID] = track
	}
	track.Audio = audio
	track.Video = video
	track.LastSeen = ts
	track.Live = true
}

// heartbeat refreshes liveness for an already-announced session. Unknown
// sessions are ignored.
func (t *trackSet) heartbeat(sessionID string, ts time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	track, ok := t.tracks[sessionID]
	if !ok {
		return false
	}
	track.LastSeen = ts
	track.Live = true
	return true
}

// release drops a session's tracks. Releasing an unknown or already
// released session is a no-op.
func (t *trackSet) release(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tracks, sessionID)
}

// expire marks tracks dead when their heartbeat is older than timeout.
func (t *trackSet) expire(now time.Time, timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for id, track := range t.tracks {
		if track.Live && now.Sub(track.LastSeen) > timeout {
			track.Live = false
			expired = append(expired, id)
		}
	}
	return expired
}

func (t *trackSet) get(sessionID string) (TrackInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	track, ok := t.tracks[sessionID]
	if !ok {
		return TrackInfo{}, false
	}
	return *track, true
}

func (t *trackSet) counts() (total, live int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, track := range t.tracks {
		total++
		if track.Live {
			live++
		}
	}
	return total, live
}
