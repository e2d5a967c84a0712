package analysis

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/studentpilot/interviewd/internal/config"
)

func testConfig() Config {
	return ConfigFrom(config.Default().Audio)
}

// frame builds a PCM frame of constant amplitude; RMS is amp/32768.
func frame(amp int16, samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(amp))
	}
	return pcm
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("expected 0 for empty frame, got %f", got)
	}
	if got := RMS(frame(0, 160)); got != 0 {
		t.Fatalf("expected 0 for silence, got %f", got)
	}
	got := RMS(frame(16384, 160))
	if got < 0.49 || got > 0.51 {
		t.Fatalf("expected half-scale RMS near 0.5, got %f", got)
	}
}

func TestThresholdOrderingHoldsForAllFloors(t *testing.T) {
	cfg := testConfig()
	for floor := 0.0; floor <= 1.0; floor += 0.001 {
		cal := &Calibration{NoiseFloor: floor}
		recompute(cfg, cal)
		if cal.BargeInThreshold <= cal.SilenceThreshold {
			t.Fatalf("floor=%f: barge-in threshold %f not above silence threshold %f",
				floor, cal.BargeInThreshold, cal.SilenceThreshold)
		}
	}
}

func TestBargeInDebounce(t *testing.T) {
	cfg := testConfig()
	cfg.BargeInFrames = 3

	var fired int
	m := NewMonitor(cfg, NewCalibration(cfg), Callbacks{
		OnBargeIn: func() { fired++ },
	})
	m.SetSpeaking(true)

	loud := frame(20000, 160)
	quiet := frame(10, 160)

	// A single loud spike must not interrupt playback.
	m.ProcessFrame(loud)
	m.ProcessFrame(quiet)
	m.ProcessFrame(loud)
	m.ProcessFrame(quiet)
	if fired != 0 {
		t.Fatalf("isolated spikes triggered barge-in %d times", fired)
	}

	// Sustained voice does.
	m.ProcessFrame(loud)
	m.ProcessFrame(loud)
	m.ProcessFrame(loud)
	if fired != 1 {
		t.Fatalf("expected exactly one barge-in, got %d", fired)
	}

	// And not again until playback restarts.
	m.ProcessFrame(loud)
	m.ProcessFrame(loud)
	m.ProcessFrame(loud)
	if fired != 1 {
		t.Fatalf("barge-in re-fired without a new playback, got %d", fired)
	}
}

func TestBargeInIgnoredWhileNotSpeaking(t *testing.T) {
	cfg := testConfig()
	var fired int
	m := NewMonitor(cfg, NewCalibration(cfg), Callbacks{
		OnBargeIn: func() { fired++ },
	})
	loud := frame(20000, 160)
	for i := 0; i < 10; i++ {
		m.ProcessFrame(loud)
	}
	if fired != 0 {
		t.Fatalf("barge-in fired outside playback")
	}
}

func TestAutoStopFiresExactlyOnce(t *testing.T) {
	cfg := testConfig()
	cfg.QuietPeriod = 1200 * time.Millisecond

	now := time.Unix(1000, 0)
	var stops int
	m := NewMonitor(cfg, NewCalibration(cfg), Callbacks{
		OnAutoStop: func() { stops++ },
	})
	m.clock = func() time.Time { return now }
	m.SetListening(true)

	quiet := frame(5, 160)

	// Within the quiet period nothing fires.
	now = now.Add(600 * time.Millisecond)
	m.ProcessFrame(quiet)
	if stops != 0 {
		t.Fatalf("auto-stop fired before quiet period elapsed")
	}

	// Past the quiet period it fires once, then stays latched.
	now = now.Add(700 * time.Millisecond)
	m.ProcessFrame(quiet)
	now = now.Add(100 * time.Millisecond)
	m.ProcessFrame(quiet)
	m.ProcessFrame(quiet)
	if stops != 1 {
		t.Fatalf("expected exactly one auto-stop, got %d", stops)
	}

	// A new listening turn re-arms the latch.
	m.SetListening(false)
	m.SetListening(true)
	now = now.Add(2 * time.Second)
	m.ProcessFrame(quiet)
	if stops != 2 {
		t.Fatalf("expected auto-stop to re-arm on new turn, got %d", stops)
	}
}

func TestVoiceRefreshDefersAutoStop(t *testing.T) {
	cfg := testConfig()
	cfg.QuietPeriod = 1200 * time.Millisecond

	now := time.Unix(2000, 0)
	var stops int
	m := NewMonitor(cfg, NewCalibration(cfg), Callbacks{
		OnAutoStop: func() { stops++ },
	})
	m.clock = func() time.Time { return now }
	m.SetListening(true)

	voiced := frame(8000, 160)
	quiet := frame(5, 160)

	for i := 0; i < 10; i++ {
		now = now.Add(1100 * time.Millisecond)
		m.ProcessFrame(voiced)
	}
	if stops != 0 {
		t.Fatalf("auto-stop fired while voice kept refreshing the timestamp")
	}

	now = now.Add(1300 * time.Millisecond)
	m.ProcessFrame(quiet)
	if stops != 1 {
		t.Fatalf("expected auto-stop after sustained silence, got %d", stops)
	}
}

func TestNoiseFloorIgnoresSpeech(t *testing.T) {
	cfg := testConfig()
	m := NewMonitor(cfg, NewCalibration(cfg), Callbacks{})

	before := m.Snapshot().NoiseFloor
	loud := frame(25000, 160)
	for i := 0; i < 50; i++ {
		m.ProcessFrame(loud)
	}
	after := m.Snapshot().NoiseFloor
	if after != before {
		t.Fatalf("speech-level frames moved the noise floor: %f -> %f", before, after)
	}
}

func TestNoiseFloorLearnsAmbientHum(t *testing.T) {
	cfg := testConfig()
	m := NewMonitor(cfg, NewCalibration(cfg), Callbacks{})

	hum := frame(300, 160) // ~0.009 RMS, below any barge-in threshold
	for i := 0; i < 500; i++ {
		m.ProcessFrame(hum)
	}
	got := m.Snapshot().NoiseFloor
	want := RMS(hum)
	if got < want*0.8 || got > want*1.2 {
		t.Fatalf("noise floor did not converge to ambient level: got %f want ~%f", got, want)
	}
}

func TestCalibrateSeedsNoiseFloor(t *testing.T) {
	cfg := testConfig()
	cfg.CalibrationWindow = 50 * time.Millisecond
	m := NewMonitor(cfg, NewCalibration(cfg), Callbacks{})

	frames := make(chan []byte, 16)
	for i := 0; i < 10; i++ {
		frames <- frame(600, 160)
	}

	floor, err := m.Calibrate(context.Background(), frames)
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	want := RMS(frame(600, 160))
	if floor < want*0.9 || floor > want*1.1 {
		t.Fatalf("calibration did not seed floor from ambient average: got %f want ~%f", floor, want)
	}

	snap := m.Snapshot()
	if snap.BargeInThreshold <= snap.SilenceThreshold {
		t.Fatalf("threshold ordering broken after calibration")
	}
}

func TestCalibrateCancellable(t *testing.T) {
	cfg := testConfig()
	cfg.CalibrationWindow = 10 * time.Second
	m := NewMonitor(cfg, NewCalibration(cfg), Callbacks{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Calibrate(ctx, make(chan []byte)); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestDisplayLevel(t *testing.T) {
	var lastLevel int
	cfg := testConfig()
	m := NewMonitor(cfg, NewCalibration(cfg), Callbacks{
		OnLevel: func(level int, _ float64) { lastLevel = level },
	})

	m.ProcessFrame(frame(16384, 160)) // half scale -> full meter
	if lastLevel != 100 {
		t.Fatalf("expected saturated meter, got %d", lastLevel)
	}
	m.ProcessFrame(frame(0, 160))
	if lastLevel != 0 {
		t.Fatalf("expected empty meter, got %d", lastLevel)
	}
}
