package presence

import (
	"sync"

	"github.com/g960059/viasacra/internal/model"
)

type EventKind string

const (
	EventJoined EventKind = "joined"
	EventLeft   EventKind = "left"
)

type Event struct {
	Kind EventKind
	Name string
}

// Diff compares two rosters keyed by participant name. Joined keeps next's
// order, Left keeps previous's order; repeated names count once.
func Diff(previous, next []model.Participant) model.PresenceDelta {
	prev := names(previous)
	curr := names(next)

	var delta model.PresenceDelta
	for _, name := range curr.order {
		if _, ok := prev.set[name]; !ok {
			delta.Joined = append(delta.Joined, name)
		}
	}
	for _, name := range prev.order {
		if _, ok := curr.set[name]; !ok {
			delta.Left = append(delta.Left, name)
		}
	}
	return delta
}

type nameSet struct {
	order []string
	set   map[string]struct{}
}

func names(roster []model.Participant) nameSet {
	out := nameSet{set: make(map[string]struct{}, len(roster))}
	for _, p := range roster {
		if _, dup := out.set[p.Name]; dup {
			continue
		}
		out.set[p.Name] = struct{}{}
		out.order = append(out.order, p.Name)
	}
	return out
}

// Differ remembers the last roster it saw and reports membership changes.
type Differ struct {
	mu       sync.Mutex
	previous []model.Participant
	seeded   bool
}

func NewDiffer() *Differ {
	return &Differ{}
}

// Observe reports roster changes since the previous observation through emit.
// The first call after construction or Reset only records the roster.
func (d *Differ) Observe(roster []model.Participant, emit func(Event)) model.PresenceDelta {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := append([]model.Participant(nil), roster...)
	if !d.seeded {
		d.previous = next
		d.seeded = true
		return model.PresenceDelta{}
	}

	delta := Diff(d.previous, next)
	if emit != nil {
		for _, name := range delta.Joined {
			emit(Event{Kind: EventJoined, Name: name})
		}
		for _, name := range delta.Left {
			emit(Event{Kind: EventLeft, Name: name})
		}
	}
	d.previous = next
	return delta
}

// Reset forgets the previous roster so the next observation seeds silently.
func (d *Differ) Reset() {
	d.mu.Lock()
	d.previous = nil
	d.seeded = false
	d.mu.Unlock()
}
