// internal/agent/histories.go
package agent

import (
	"time"

	"github.com/quayside/browserpilot/api/schemas"
)

// actionLog is the sliding-window action history. It is append-only until the
// hard cap is crossed, at which point it is cut back to the retained size in
// one trim. It is not safe for concurrent use; the controller's mutex guards
// it.
type actionLog struct {
	cap     int
	retain  int
	records []schemas.ActionRecord
}

func newActionLog(cap, retain int) *actionLog {
	return &actionLog{cap: cap, retain: retain}
}

func (l *actionLog) append(r schemas.ActionRecord) {
	l.records = append(l.records, r)
	// Trimming happens in one cut rather than element-by-element so the
	// decision engine sees a stable window between trims.
	if len(l.records) > l.cap {
		l.records = append([]schemas.ActionRecord(nil), l.records[len(l.records)-l.retain:]...)
	}
}

func (l *actionLog) len() int { return len(l.records) }

func (l *actionLog) clear() { l.records = nil }

// tail returns up to n most recent records, oldest first.
func (l *actionLog) tail(n int) []schemas.ActionRecord {
	if n <= 0 || len(l.records) == 0 {
		return nil
	}
	if n > len(l.records) {
		n = len(l.records)
	}
	out := make([]schemas.ActionRecord, n)
	copy(out, l.records[len(l.records)-n:])
	return out
}

func (l *actionLog) last() *schemas.ActionRecord {
	if len(l.records) == 0 {
		return nil
	}
	r := l.records[len(l.records)-1]
	return &r
}

// conversationLog holds free-text exchange turns. Bounded separately from the
// action log so goal replacements keep long-range context.
type conversationLog struct {
	cap    int
	retain int
	turns  []schemas.ConversationTurn
}

func newConversationLog(cap, retain int) *conversationLog {
	return &conversationLog{cap: cap, retain: retain}
}

func (l *conversationLog) append(role, text string) {
	l.turns = append(l.turns, schemas.ConversationTurn{
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	if len(l.turns) > l.cap {
		l.turns = append([]schemas.ConversationTurn(nil), l.turns[len(l.turns)-l.retain:]...)
	}
}

func (l *conversationLog) len() int { return len(l.turns) }

func (l *conversationLog) clear() { l.turns = nil }

func (l *conversationLog) snapshot() []schemas.ConversationTurn {
	out := make([]schemas.ConversationTurn, len(l.turns))
	copy(out, l.turns)
	return out
}

// loopDetected flags the oscillation pattern A-B-A-B over the last four
// records: the agent alternating between two targets without progress. The
// warning is folded into the next decision prompt; it is not fatal on its
// own.
func loopDetected(records []schemas.ActionRecord) bool {
	if len(records) < 4 {
		return false
	}
	last := records[len(records)-4:]
	c := make([]*schemas.GridPoint, 4)
	for i, r := range last {
		if r.Coordinate == nil {
			return false
		}
		c[i] = r.Coordinate
	}
	return *c[0] == *c[2] && *c[1] == *c[3] && *c[0] != *c[1]
}
