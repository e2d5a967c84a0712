package protocol

import "time"

// AudioFrame represents PCM audio data streamed from an edge client's
// microphone track.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// LevelUpdate carries the 0-100 display level for the client's input meter.
type LevelUpdate struct {
	SessionID string  `json:"session_id"`
	Level     int     `json:"level"`
	RMS       float64 `json:"rms"`
}

// Transcript represents recognizer output broadcast on the bus.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Partial   bool      `json:"partial"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioChunk carries synthesized question audio back to the edge client.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Sequence   int    `json:"sequence"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// QuestionText is the text-only fallback when no audio tier is available.
// The client is expected to display the question without playback.
type QuestionText struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
}

// PhaseEvent announces an interview phase transition.
type PhaseEvent struct {
	SessionID string    `json:"session_id"`
	Phase     string    `json:"phase"`
	Index     int       `json:"index"`
	Question  string    `json:"question,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FeedbackEvent delivers AI feedback for an answered question.
type FeedbackEvent struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Feedback  string `json:"feedback"`
	Delivery  string `json:"delivery,omitempty"`
}

// Notice is a user-facing status message (degraded mode, no answer
// detected, rejected advance, ...). It never terminates the session.
type Notice struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// MediaAnnounce registers an edge client's capture tracks for a session.
type MediaAnnounce struct {
	SessionID string    `json:"session_id"`
	Audio     bool      `json:"audio"`
	Video     bool      `json:"video"`
	Timestamp time.Time `json:"timestamp"`
}

// MediaHeartbeat keeps announced tracks live.
type MediaHeartbeat struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// MediaStop tells the edge client to tear down its capture tracks.
type MediaStop struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ControlCommand is a client-initiated session operation.
type ControlCommand struct {
	SessionID     string `json:"session_id"`
	Command       string `json:"command"` // start, advance, retry, stop, end, calibrate
	Role          string `json:"role,omitempty"`
	QuestionCount int    `json:"question_count,omitempty"`
}

const (
	SubjectAudioFramePrefix  = "interview.audio.frame"
	SubjectAudioLevel        = "interview.audio.level"
	SubjectTranscriptPartial = "interview.transcript.partial"
	SubjectTranscriptFinal   = "interview.transcript.final"
	SubjectTTSAudio          = "interview.tts.audio"
	SubjectQuestionText      = "interview.question.text"
	SubjectPhase             = "interview.phase"
	SubjectFeedback          = "interview.feedback"
	SubjectNotice            = "interview.notice"
	SubjectMediaAnnounce     = "interview.media.announce"
	SubjectMediaHeartbeat    = "interview.media.heartbeat"
	SubjectMediaStop         = "interview.media.stop"
	SubjectControl           = "interview.control"
)

// Notice codes understood by clients.
const (
	NoticeNoAnswer      = "no_answer"
	NoticeAudioOnly     = "audio_only"
	NoticeAdvanceDenied = "advance_denied"
	NoticeSTTError      = "stt_error"
	NoticeTTSFallback   = "tts_fallback"
	NoticeCalibrated    = "calibrated"
	NoticeError         = "error"
)
