package performance

import (
	"sort"
	"time"

	"github.com/renovus-tech/solarec/pkg/period"
)

// Slot is one (entity, timestamp) cell of the canonical grid.
type Slot struct {
	EntityID  string
	Timestamp time.Time
}

// Grid is the regular time grid of a window for a set of entities. Cell
// (entity e, step s) lives at index e*len(Times)+s of every series built on it.
type Grid struct {
	Start    time.Time
	End      time.Time
	Interval period.Frequency

	EntityIDs []string
	Times     []time.Time

	entityIndex map[string]int
}

// NewGrid builds the grid for [start, end) stepped by interval. An empty
// window or entity set produces a grid with no slots.
func NewGrid(start, end time.Time, interval period.Frequency, entityIDs []string) Grid {
	g := Grid{
		Start:       start,
		End:         end,
		Interval:    interval,
		entityIndex: make(map[string]int, len(entityIDs)),
	}
	if len(entityIDs) == 0 {
		return g
	}
	g.Times = period.Steps(start, end, interval)
	for _, id := range entityIDs {
		if _, ok := g.entityIndex[id]; ok {
			continue
		}
		g.entityIndex[id] = len(g.EntityIDs)
		g.EntityIDs = append(g.EntityIDs, id)
	}
	return g
}

// BuildGrid returns the canonical slots ordered by entity then time.
func BuildGrid(start, end time.Time, interval period.Frequency, entityIDs []string) []Slot {
	return NewGrid(start, end, interval, entityIDs).Slots()
}

// Len is the number of slots.
func (g Grid) Len() int {
	if len(g.Times) == 0 {
		return 0
	}
	return len(g.EntityIDs) * len(g.Times)
}

// Steps is the number of timestamps per entity.
func (g Grid) Steps() int {
	return len(g.Times)
}

// Slots materializes the grid.
func (g Grid) Slots() []Slot {
	if g.Len() == 0 {
		return nil
	}
	slots := make([]Slot, 0, g.Len())
	for _, id := range g.EntityIDs {
		for _, ts := range g.Times {
			slots = append(slots, Slot{EntityID: id, Timestamp: ts})
		}
	}
	return slots
}

func (g Grid) index(entity, step int) int {
	return entity*len(g.Times) + step
}

// locate returns the cell a reading belongs to. Timestamps are rounded to the
// second and then snapped to the nearest boundary for minute and hour grids;
// calendar grids use the boundary at or before the timestamp.
func (g Grid) locate(entityID string, ts time.Time) (int, bool) {
	e, ok := g.entityIndex[entityID]
	if !ok || len(g.Times) == 0 {
		return 0, false
	}
	ts = ts.Round(time.Second)

	var step int
	switch g.Interval.Unit {
	case period.Minute, period.Hour:
		d := g.Interval.Nominal()
		offset := ts.Sub(g.Start) + d/2
		step = int(offset / d)
		if offset < 0 {
			// floor for negative offsets
			step = int((offset - d + 1) / d)
		}
	default:
		if !ts.Before(g.End) {
			return 0, false
		}
		step = sort.Search(len(g.Times), func(i int) bool {
			return g.Times[i].After(ts)
		}) - 1
	}
	if step < 0 || step >= len(g.Times) {
		return 0, false
	}
	return g.index(e, step), true
}
