package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/studentpilot/interviewd/internal/analysis"
	"github.com/studentpilot/interviewd/internal/bus"
	"github.com/studentpilot/interviewd/internal/interview"
	"github.com/studentpilot/interviewd/internal/media"
	"github.com/studentpilot/interviewd/internal/protocol"
	"github.com/studentpilot/interviewd/internal/stt"
	"github.com/studentpilot/interviewd/internal/tts"
)

// busEvents publishes interview events onto the bus for edge clients.
type busEvents struct {
	bus *bus.Client
	log *slog.Logger
}

func (e *busEvents) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.log.Warn("marshal event failed", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Conn().Publish(subject, data); err != nil {
		e.log.Warn("publish event failed", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func (e *busEvents) Phase(ev protocol.PhaseEvent)       { e.publish(protocol.SubjectPhase, ev) }
func (e *busEvents) Feedback(ev protocol.FeedbackEvent) { e.publish(protocol.SubjectFeedback, ev) }
func (e *busEvents) Notice(n protocol.Notice)           { e.publish(protocol.SubjectNotice, n) }

// busSink streams synthesized question audio back to the edge client,
// and the plain text when every synthesis tier failed.
type busSink struct {
	events *busEvents
}

func (s *busSink) Play(ctx context.Context, chunk tts.SynthChunk) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.events.publish(protocol.SubjectTTSAudio, protocol.AudioChunk{
		SessionID:  chunk.SessionID,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Sequence:   chunk.Sequence,
		PCM:        chunk.PCM,
		Final:      chunk.Final,
	})
	return nil
}

func (s *busSink) ShowText(sessionID string, index int, text string) {
	s.events.publish(protocol.SubjectQuestionText, protocol.QuestionText{
		SessionID: sessionID,
		Index:     index,
		Text:      text,
	})
	s.events.Notice(protocol.Notice{
		SessionID: sessionID,
		Code:      protocol.NoticeTTSFallback,
		Message:   "audio unavailable; question shown as text",
	})
}

// pipeline ties the audio intake to the analysis loop, the transcriber,
// and the session manager.
type pipeline struct {
	log         *slog.Logger
	bus         *bus.Client
	events      *busEvents
	broadcaster *media.Broadcaster
	monitor     *analysis.Monitor
	listener    *stt.Listener
	manager     *interview.Manager

	subs []*nats.Subscription
}

func (p *pipeline) start(ctx context.Context) error {
	conn := p.bus.Conn()

	frameSub, err := conn.Subscribe(protocol.SubjectAudioFramePrefix+".*", p.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	p.subs = append(p.subs, frameSub)

	controlSub, err := conn.Subscribe(protocol.SubjectControl, func(msg *nats.Msg) {
		p.handleControl(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe control: %w", err)
	}
	p.subs = append(p.subs, controlSub)

	frames, cancelFrames := p.broadcaster.Subscribe(64)
	go func() {
		defer cancelFrames()
		p.monitor.Run(ctx, frames)
	}()

	return nil
}

func (p *pipeline) stop() {
	for _, sub := range p.subs {
		_ = sub.Drain()
	}
	p.broadcaster.Close()
}

func (p *pipeline) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		p.log.Warn("invalid audio frame", slog.String("error", err.Error()))
		return
	}
	if len(frame.PCM) == 0 {
		return
	}
	p.broadcaster.Publish(frame.PCM)
	p.listener.Push(frame.PCM)
}

func (p *pipeline) handleControl(ctx context.Context, msg *nats.Msg) {
	var cmd protocol.ControlCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		p.log.Warn("invalid control command", slog.String("error", err.Error()))
		return
	}
	p.log.Info("control command", slog.String("command", cmd.Command), slog.String("session", cmd.SessionID))

	switch cmd.Command {
	case "start":
		if _, err := p.manager.Start(ctx, cmd.Role, cmd.QuestionCount); err != nil {
			p.events.Notice(protocol.Notice{
				SessionID: cmd.SessionID,
				Code:      protocol.NoticeError,
				Message:   err.Error(),
			})
		}
	case "advance":
		if c := p.activeSession(cmd.SessionID); c != nil {
			_ = c.Advance() // rejection already surfaces as a notice
		}
	case "retry":
		if c := p.activeSession(cmd.SessionID); c != nil {
			_ = c.Retry()
		}
	case "stop":
		if c := p.activeSession(cmd.SessionID); c != nil {
			c.StopListening()
		}
	case "end":
		if c := p.activeSession(cmd.SessionID); c != nil {
			c.End()
		}
	case "calibrate":
		go p.calibrate(ctx, cmd.SessionID)
	default:
		p.log.Warn("unknown control command", slog.String("command", cmd.Command))
	}
}

// activeSession resolves a command to the running coordinator. Commands
// with no session ID target whatever session is active.
func (p *pipeline) activeSession(sessionID string) *interview.Coordinator {
	if sessionID == "" {
		return p.manager.Active()
	}
	c := p.manager.Lookup(sessionID)
	if c == nil {
		p.events.Notice(protocol.Notice{
			SessionID: sessionID,
			Code:      protocol.NoticeError,
			Message:   "no such session",
		})
	}
	return c
}

// calibrate samples ambient audio and reseeds the noise floor. The
// candidate is expected to stay quiet while it runs.
func (p *pipeline) calibrate(ctx context.Context, sessionID string) {
	frames, cancel := p.broadcaster.Subscribe(64)
	defer cancel()

	cctx, cancelCtx := context.WithTimeout(ctx, 10*time.Second)
	defer cancelCtx()

	floor, err := p.monitor.Calibrate(cctx, frames)
	if err != nil {
		p.log.Warn("calibration failed", slog.String("error", err.Error()))
		p.events.Notice(protocol.Notice{
			SessionID: sessionID,
			Code:      protocol.NoticeError,
			Message:   "calibration failed",
		})
		return
	}
	p.log.Info("calibration complete", slog.Float64("noise_floor", floor))
	p.events.Notice(protocol.Notice{
		SessionID: sessionID,
		Code:      protocol.NoticeCalibrated,
		Message:   fmt.Sprintf("noise floor calibrated to %.4f", floor),
	})
}
