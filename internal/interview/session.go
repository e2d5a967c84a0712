package interview

import "time"

// Phase is the single active stage of an interview session.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseQuestion   Phase = "question"
	PhaseListening  Phase = "listening"
	PhaseProcessing Phase = "processing"
	PhaseFeedback   Phase = "feedback"
	PhaseEnded      Phase = "ended"
)

func (p Phase) String() string { return string(p) }

// QA is one completed exchange: the question asked, what the candidate
// said, and the critique produced for it.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Feedback string `json:"feedback"`
	Delivery string `json:"delivery,omitempty"`
	FollowUp bool   `json:"follow_up,omitempty"`
}

// Session is the full state of one mock interview.
type Session struct {
	ID         string
	Role       string
	Questions  []string
	Index      int
	Transcript []QA
	Phase      Phase
	StartedAt  time.Time
	EndedAt    time.Time
}

// Snapshot is a copy safe to hand outside the coordinator's lock.
func (s *Session) snapshot() Session {
	out := *s
	out.Questions = append([]string(nil), s.Questions...)
	out.Transcript = append([]QA(nil), s.Transcript...)
	return out
}
