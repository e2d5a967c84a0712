package analysis

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/studentpilot/interviewd/internal/config"
)

// maxExpectedRMS is the normalized RMS treated as a full-scale input meter.
const maxExpectedRMS = 0.5

// Config tunes the per-frame analysis loop.
type Config struct {
	NoiseFloorMin     float64
	NoiseFloorMax     float64
	NoiseFloorWeight  float64
	SilenceMultiplier float64
	SilenceOffset     float64
	SilenceMin        float64
	SilenceMax        float64
	BargeInMultiplier float64
	BargeInOffset     float64
	BargeInMin        float64
	BargeInMax        float64
	BargeInRatio      float64
	VoiceMargin       float64
	BargeInFrames     int
	QuietPeriod       time.Duration
	CalibrationWindow time.Duration
}

// ConfigFrom converts the YAML audio section into loop parameters.
func ConfigFrom(cfg config.AudioConfig) Config {
	return Config{
		NoiseFloorMin:     cfg.NoiseFloorMin,
		NoiseFloorMax:     cfg.NoiseFloorMax,
		NoiseFloorWeight:  cfg.NoiseFloorWeight,
		SilenceMultiplier: cfg.SilenceMultiplier,
		SilenceOffset:     cfg.SilenceOffset,
		SilenceMin:        cfg.SilenceMin,
		SilenceMax:        cfg.SilenceMax,
		BargeInMultiplier: cfg.BargeInMultiplier,
		BargeInOffset:     cfg.BargeInOffset,
		BargeInMin:        cfg.BargeInMin,
		BargeInMax:        cfg.BargeInMax,
		BargeInRatio:      cfg.BargeInRatio,
		VoiceMargin:       cfg.VoiceMargin,
		BargeInFrames:     cfg.BargeInFrames,
		QuietPeriod:       time.Duration(cfg.QuietPeriodMS) * time.Millisecond,
		CalibrationWindow: time.Duration(cfg.CalibrationMS) * time.Millisecond,
	}
}

// Calibration is the mutable loop state for one session. It is owned by a
// single Monitor and mutated in place; read it through Monitor.Snapshot.
type Calibration struct {
	NoiseFloor       float64
	SilenceThreshold float64
	BargeInThreshold float64
	LastVoice        time.Time
	VoiceFrames      int
}

// NewCalibration seeds the state at the bottom of the safety band; the
// rolling average and the explicit calibration step both adjust it upward.
func NewCalibration(cfg Config) *Calibration {
	cal := &Calibration{NoiseFloor: cfg.NoiseFloorMin}
	recompute(cfg, cal)
	return cal
}

// Callbacks are invoked synchronously from the goroutine driving the
// monitor. All fields are optional.
type Callbacks struct {
	// OnLevel receives the 0-100 display level and the normalized RMS for
	// every processed frame.
	OnLevel func(level int, rms float64)

	// OnAutoStop fires once per listening turn when no voice has been
	// detected for the configured quiet period.
	OnAutoStop func()

	// OnBargeIn fires when sustained voice is detected while question
	// playback is active.
	OnBargeIn func()
}

// Monitor runs the per-frame analysis loop for one session. It reads the
// current speaking/listening flags to decide whether to trigger auto-stop
// or barge-in, but never touches transcript state itself.
type Monitor struct {
	cfg   Config
	cal   *Calibration
	cb    Callbacks
	clock func() time.Time

	mu        sync.Mutex
	listening bool
	speaking  bool
	autoStop  bool
	stopFired bool
}

func NewMonitor(cfg Config, cal *Calibration, cb Callbacks) *Monitor {
	return &Monitor{
		cfg:      cfg,
		cal:      cal,
		cb:       cb,
		clock:    time.Now,
		autoStop: true,
	}
}

// Run consumes audio frames until ctx is cancelled or the channel closes.
// The loop is owned by the caller: started explicitly on session begin and
// cancelled explicitly on session end.
func (m *Monitor) Run(ctx context.Context, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case pcm, ok := <-frames:
			if !ok {
				return
			}
			m.ProcessFrame(pcm)
		}
	}
}

// ProcessFrame is one tick of the analysis loop.
func (m *Monitor) ProcessFrame(pcm []byte) {
	r := RMS(pcm)
	now := m.clock()

	var fireStop, fireBarge bool

	m.mu.Lock()
	// Ambient noise is learned out only from frames quiet enough that they
	// cannot be the user's own speech.
	if r < m.cal.BargeInThreshold {
		w := m.cfg.NoiseFloorWeight
		m.cal.NoiseFloor = clamp((1-w)*m.cal.NoiseFloor+w*r, m.cfg.NoiseFloorMin, m.cfg.NoiseFloorMax)
	}
	recompute(m.cfg, m.cal)

	if r > m.cal.SilenceThreshold+m.cfg.VoiceMargin {
		m.cal.LastVoice = now
	}

	if r > m.cal.BargeInThreshold {
		m.cal.VoiceFrames++
	} else {
		m.cal.VoiceFrames = 0
	}

	if m.listening && m.autoStop && !m.stopFired &&
		!m.cal.LastVoice.IsZero() && now.Sub(m.cal.LastVoice) >= m.cfg.QuietPeriod {
		m.stopFired = true
		fireStop = true
	}

	if m.speaking && m.cal.VoiceFrames >= m.cfg.BargeInFrames {
		// Playback cancellation is on its way; stop watching until the
		// coordinator flips the flag for the next question.
		m.speaking = false
		m.cal.VoiceFrames = 0
		fireBarge = true
	}
	m.mu.Unlock()

	if m.cb.OnLevel != nil {
		m.cb.OnLevel(displayLevel(r), r)
	}
	if fireStop && m.cb.OnAutoStop != nil {
		m.cb.OnAutoStop()
	}
	if fireBarge && m.cb.OnBargeIn != nil {
		m.cb.OnBargeIn()
	}
}

// SetListening marks the start or end of a listening turn. Entering the
// turn arms the auto-stop latch and grants a fresh quiet-period grace so a
// slow-to-start answer is not cut off immediately.
func (m *Monitor) SetListening(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listening = active
	if active {
		m.stopFired = false
		m.cal.LastVoice = m.clock()
	}
}

// SetSpeaking marks whether question playback is active (barge-in watch).
func (m *Monitor) SetSpeaking(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speaking = active
	if active {
		m.cal.VoiceFrames = 0
	}
}

// SetAutoStop toggles silence-based end-of-turn detection.
func (m *Monitor) SetAutoStop(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoStop = enabled
}

// Snapshot returns a copy of the current loop state.
func (m *Monitor) Snapshot() Calibration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.cal
}

// Calibrate samples ambient loudness for the configured window and seeds
// the noise floor from the observed average. Run it before the interview
// starts or on demand; the rolling estimate takes over afterwards.
func (m *Monitor) Calibrate(ctx context.Context, frames <-chan []byte) (float64, error) {
	deadline := time.NewTimer(m.cfg.CalibrationWindow)
	defer deadline.Stop()

	var sum float64
	var count int
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			if count == 0 {
				return m.Snapshot().NoiseFloor, nil
			}
			avg := sum / float64(count)
			m.mu.Lock()
			m.cal.NoiseFloor = clamp(avg, m.cfg.NoiseFloorMin, m.cfg.NoiseFloorMax)
			recompute(m.cfg, m.cal)
			floor := m.cal.NoiseFloor
			m.mu.Unlock()
			return floor, nil
		case pcm, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			sum += RMS(pcm)
			count++
		}
	}
}

// recompute derives both thresholds from the noise floor, clamps them to
// their safety bands, and restores the barge-in > silence ordering if the
// clamps collapsed it.
func recompute(cfg Config, cal *Calibration) {
	cal.SilenceThreshold = clamp(cal.NoiseFloor*cfg.SilenceMultiplier+cfg.SilenceOffset, cfg.SilenceMin, cfg.SilenceMax)
	cal.BargeInThreshold = clamp(cal.NoiseFloor*cfg.BargeInMultiplier+cfg.BargeInOffset, cfg.BargeInMin, cfg.BargeInMax)
	if cal.BargeInThreshold <= cal.SilenceThreshold {
		cal.BargeInThreshold = cal.SilenceThreshold * cfg.BargeInRatio
	}
}

// RMS computes root-mean-square loudness of 16-bit little-endian PCM,
// normalized to roughly [0, 1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}

func displayLevel(rms float64) int {
	level := int(math.Round(rms / maxExpectedRMS * 100))
	if level > 100 {
		return 100
	}
	if level < 0 {
		return 0
	}
	return level
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
