package alert

import (
	"time"
)

// Direction fixes which side of the target a level triggers on. It is chosen
// once at registration, from the relationship between the target and the price
// the watch block was pasted with, and never changes afterwards: a level meant
// as "upside" but registered against a stale or wrong current price keeps the
// direction the bad sample gave it.
type Direction string

const (
	AtOrAbove Direction = "at_or_above"
	AtOrBelow Direction = "at_or_below"
)

// Hit reports whether price reaches target from this direction.
func (d Direction) Hit(price, target float64) bool {
	if d == AtOrAbove {
		return price >= target
	}
	return price <= target
}

func directionFor(target, current float64) Direction {
	if target >= current {
		return AtOrAbove
	}
	return AtOrBelow
}

// Level is a single one-shot threshold inside a watch. Fired flips to true the
// first time the price crosses Target and never flips back.
type Level struct {
	Label     string    `json:"label"`
	Target    float64   `json:"target"`
	Direction Direction `json:"direction"`
	Fired     bool      `json:"fired"`
}

// Destination is the chat a watch reports back to. MessageID is the message
// that carried the watch block; notifications reply to it so they thread under
// the original post.
type Destination struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id,omitempty"`
}

// Alert is one registered watch: a symbol plus its remaining levels. Alerts
// cross the store boundary by value; the engine's registry holds the only
// mutable copy.
type Alert struct {
	ID           string      `json:"id"`
	Symbol       string      `json:"symbol"`
	CreatedAt    time.Time   `json:"created_at"`
	CreatedPrice float64     `json:"created_price"`
	Destination  Destination `json:"destination"`
	Levels       []Level     `json:"levels"`
}

// Outstanding counts the levels that have not fired yet.
func (a Alert) Outstanding() int {
	n := 0
	for _, lvl := range a.Levels {
		if !lvl.Fired {
			n++
		}
	}
	return n
}

func (a Alert) exhausted() bool { return a.Outstanding() == 0 }

func (a Alert) clone() Alert {
	out := a
	out.Levels = make([]Level, len(a.Levels))
	copy(out.Levels, a.Levels)
	return out
}

func cloneAlerts(in []Alert) []Alert {
	out := make([]Alert, len(in))
	for i := range in {
		out[i] = in[i].clone()
	}
	return out
}
