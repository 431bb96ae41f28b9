package registry

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned for a graph name absent from the snapshot
var ErrNotFound = errors.New("graph not found")

// Measurement is the current reading of one data source
type Measurement struct {
	Value  float64
	Format Format
}

// String formats the measurement for the wire
func (m Measurement) String() string {
	return m.Format.Render(m.Value)
}

// Graph is one provider's output as it is served to collectors
type Graph struct {
	Name    string
	Members []string
	Config  []string
}

// Snapshot is the complete result of one refresh. It is never modified after
// it has been published.
type Snapshot struct {
	order  []string
	graphs map[string]*Graph
	values map[string]Measurement
	taken  time.Time
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		graphs: make(map[string]*Graph),
		values: make(map[string]Measurement),
	}
}

// TakenAt returns when the snapshot was built; zero before the first refresh
func (s *Snapshot) TakenAt() time.Time {
	return s.taken
}

// Graphs returns the graph names in provider registration order
func (s *Snapshot) Graphs() []string {
	return append([]string(nil), s.order...)
}

// Members returns the ordered member list of a graph
func (s *Snapshot) Members(name string) ([]string, error) {
	g, ok := s.graphs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return append([]string(nil), g.Members...), nil
}

// Config returns the sentinel-terminated configuration block of a graph
func (s *Snapshot) Config(name string) ([]string, error) {
	g, ok := s.graphs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return append([]string(nil), g.Config...), nil
}

// Value returns a measurement, or zero in integer format when it is absent.
func (s *Snapshot) Value(name string) Measurement {
	return s.values[name]
}

// builder assembles a snapshot during a refresh
type builder struct {
	snap *Snapshot
}

func newBuilder(now time.Time) *builder {
	snap := emptySnapshot()
	snap.taken = now
	return &builder{snap: snap}
}

func (b *builder) addPlot(name string, p *Plot) {
	members := p.Members()
	b.snap.order = append(b.snap.order, name)
	b.snap.graphs[name] = &Graph{
		Name:    name,
		Members: members,
		Config:  p.Lines(),
	}
	for i, f := range p.Fields {
		b.snap.values[members[i]] = Measurement{Value: f.Value, Format: f.Format}
	}
}

// carry copies a graph and its measurements from a previous snapshot
func (b *builder) carry(name string, prev *Snapshot) bool {
	g, ok := prev.graphs[name]
	if !ok {
		return false
	}
	b.snap.order = append(b.snap.order, name)
	b.snap.graphs[name] = g
	for _, member := range g.Members {
		if m, ok := prev.values[member]; ok {
			b.snap.values[member] = m
		}
	}
	return true
}
