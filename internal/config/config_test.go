package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Interview.QuestionCount != 6 {
		t.Fatalf("expected 6 default questions, got %d", cfg.Interview.QuestionCount)
	}
	if cfg.Audio.BargeInFrames != 3 {
		t.Fatalf("expected default barge-in debounce of 3 frames, got %d", cfg.Audio.BargeInFrames)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INTERVIEWD_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("INTERVIEWD_BUS_USERNAME", "alice")
	t.Setenv("INTERVIEWD_BUS_PASSWORD", "secret")
	t.Setenv("INTERVIEWD_AUDIO_QUIET_PERIOD_MS", "900")
	t.Setenv("INTERVIEWD_AUDIO_BARGE_IN_FRAMES", "5")
	t.Setenv("INTERVIEWD_STT_MODE", "http")
	t.Setenv("INTERVIEWD_STT_ENDPOINT", "http://localhost:8178")
	t.Setenv("INTERVIEWD_BACKEND_MODE", "http")
	t.Setenv("INTERVIEWD_BACKEND_ENDPOINT", "http://localhost:9000")
	t.Setenv("INTERVIEWD_INTERVIEW_QUESTION_COUNT", "4")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Audio.QuietPeriodMS != 900 {
		t.Fatalf("expected quiet period override, got %d", cfg.Audio.QuietPeriodMS)
	}
	if cfg.Audio.BargeInFrames != 5 {
		t.Fatalf("expected barge-in frames override, got %d", cfg.Audio.BargeInFrames)
	}
	if cfg.STT.Mode != "http" || cfg.STT.Endpoint != "http://localhost:8178" {
		t.Fatalf("expected stt overrides, got %s %s", cfg.STT.Mode, cfg.STT.Endpoint)
	}
	if cfg.Interview.QuestionCount != 4 {
		t.Fatalf("expected question count override, got %d", cfg.Interview.QuestionCount)
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad stt mode", func(c *Config) { c.STT.Mode = "grpc" }},
		{"exec without command", func(c *Config) { c.STT.Mode = "exec"; c.STT.Command = "" }},
		{"http backend without endpoint", func(c *Config) { c.Backend.Mode = "http"; c.Backend.Endpoint = "" }},
		{"zero questions", func(c *Config) { c.Interview.QuestionCount = 0 }},
		{"barge-in ratio too low", func(c *Config) { c.Audio.BargeInRatio = 1.0 }},
		{"bad retention", func(c *Config) { c.History.RetentionMode = "forever" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
