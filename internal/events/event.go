package events

import "time"

type Type string

const (
	TypeSegment Type = "segment"
	TypeStatus  Type = "status"
)

// Notice names a session status notification.
type Notice string

const (
	NoticePreparing            Notice = "preparing"
	NoticeReady                Notice = "ready"
	NoticeDegradedPartialsOnly Notice = "degraded-partials-only"
	NoticeDegradedFinalsOnly   Notice = "degraded-finals-only"
	NoticeStarted              Notice = "started"
	NoticeStopped              Notice = "stopped"
	NoticeCancelled            Notice = "cancelled"
	NoticeError                Notice = "error"
)

type Status struct {
	Notice Notice `json:"notice"`
	Detail string `json:"detail,omitempty"`
	// Transcript is set on the stopped notice.
	Transcript []Segment `json:"transcript,omitempty"`
}

type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"sessionId"`
	Time      time.Time `json:"time"`
	Segment   *Segment  `json:"segment,omitempty"`
	Status    *Status   `json:"status,omitempty"`
}

func SegmentEvent(seg Segment) Event {
	return Event{
		Type:      TypeSegment,
		SessionID: seg.SessionID,
		Time:      time.Now().UTC(),
		Segment:   &seg,
	}
}

func StatusEvent(sessionID string, notice Notice, detail string) Event {
	return Event{
		Type:      TypeStatus,
		SessionID: sessionID,
		Time:      time.Now().UTC(),
		Status:    &Status{Notice: notice, Detail: detail},
	}
}

// Kind classifies the event for routing: "partial", "final" or "status".
func (e Event) Kind() string {
	switch {
	case e.Segment != nil && e.Segment.IsFinal:
		return "final"
	case e.Segment != nil:
		return "partial"
	default:
		return "status"
	}
}
