package transcript

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// WebhookPayload is the body the device posts. Segments arrive under either
// "segments" or "transcript_segments".
type WebhookPayload struct {
	SessionID          string           `json:"session_id"`
	Segments           []WebhookSegment `json:"segments"`
	TranscriptSegments []WebhookSegment `json:"transcript_segments"`
}

type WebhookSegment struct {
	ID        flexString  `json:"id"`
	Text      string      `json:"text"`
	Speaker   string      `json:"speaker"`
	SpeakerID flexInt     `json:"speaker_id"`
	IsUser    bool        `json:"is_user"`
	Start     json.Number `json:"start"`
	End       json.Number `json:"end"`
}

// Normalize turns the payload into segment rows ready for Ingest.
func (p WebhookPayload) Normalize() []Segment {
	raw := p.TranscriptSegments
	if len(raw) == 0 {
		raw = p.Segments
	}
	sessionID := strings.TrimSpace(p.SessionID)
	if sessionID == "" {
		sessionID = UnknownSession
	}

	out := make([]Segment, 0, len(raw))
	for _, ws := range raw {
		seg := Segment{
			Text:      ws.Text,
			Speaker:   strings.TrimSpace(ws.Speaker),
			SpeakerID: ws.SpeakerID.v,
			IsUser:    ws.IsUser,
			StartTime: number(ws.Start),
			EndTime:   number(ws.End),
			SessionID: sessionID,
		}
		if id := strings.TrimSpace(string(ws.ID)); id != "" {
			seg.SegmentID = &id
		}
		if seg.Speaker == "" {
			if ws.SpeakerID.set {
				seg.Speaker = fmt.Sprintf("SPEAKER_%d", ws.SpeakerID.v)
			} else {
				seg.Speaker = "UNKNOWN"
			}
		}
		out = append(out, seg)
	}
	return out
}

func number(n json.Number) float64 {
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return f
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("segment id: %w", err)
	}
	*s = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or a numeric string, and remembers whether
// it was present.
type flexInt struct {
	v   int
	set bool
}

func (i *flexInt) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		f, err := n.Float64()
		if err != nil {
			return nil
		}
		*i = flexInt{v: int(f), set: true}
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("speaker id: %w", err)
	}
	if v, err := strconv.Atoi(strings.TrimSpace(str)); err == nil {
		*i = flexInt{v: v, set: true}
	}
	return nil
}
