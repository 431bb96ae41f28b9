package registry

import (
	"strconv"
	"strings"
)

// Format selects how a measurement value is written on the wire
type Format int

const (
	// FormatInteger truncates the value toward zero
	FormatInteger Format = iota
	// FormatFixed2 writes two decimal places
	FormatFixed2
)

// Render formats v for a fetch reply
func (f Format) Render(v float64) string {
	switch f {
	case FormatFixed2:
		return strconv.FormatFloat(v, 'f', 2, 64)
	default:
		return strconv.FormatInt(int64(v), 10)
	}
}

// Data source types
const (
	TypeGauge   = "GAUGE"
	TypeCounter = "COUNTER"
)

// Draw styles
const (
	DrawArea      = "AREA"
	DrawStack     = "STACK"
	DrawAreaStack = "AREASTACK"
	DrawLine      = "LINE"
	DrawLine2     = "LINE2"
)

// Sentinel terminates every multi-line reply
const Sentinel = "."

// Field is one data source of a plot: its configuration attributes and the
// value read in this cycle. Empty attributes are not emitted.
type Field struct {
	Name  string
	Label string
	Min   string
	Type  string
	Draw  string
	Info  string
	CDef  string

	Value  float64
	Format Format
}

// Plot is what a provider returns for one polling cycle
type Plot struct {
	Title    string
	Args     string
	VLabel   string
	Order    bool // emit graph_order with the field names
	Category string
	Period   string
	Fields   []Field
}

// Members returns the sanitized field names in field order
func (p *Plot) Members() []string {
	members := make([]string, 0, len(p.Fields))
	for _, f := range p.Fields {
		members = append(members, FieldName(f.Name))
	}
	return members
}

// Lines renders the configuration block, sentinel included.
func (p *Plot) Lines() []string {
	members := p.Members()
	lines := make([]string, 0, 6+len(p.Fields)*6+1)

	add := func(key, value string) {
		if value != "" {
			lines = append(lines, key+" "+value)
		}
	}

	add("graph_title", p.Title)
	add("graph_args", p.Args)
	add("graph_vlabel", p.VLabel)
	if p.Order {
		add("graph_order", strings.Join(members, " "))
	}
	add("graph_category", p.Category)
	add("graph_period", p.Period)

	for i, f := range p.Fields {
		name := members[i]
		add(name+".label", f.Label)
		add(name+".min", f.Min)
		add(name+".type", f.Type)
		add(name+".draw", f.Draw)
		add(name+".info", f.Info)
		add(name+".cdef", f.CDef)
	}

	return append(lines, Sentinel)
}

// FieldName maps name onto the munin data source alphabet [A-Za-z0-9_],
// replacing anything else with '_' and prefixing a leading digit.
func FieldName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 1)
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
