// Package protocol interprets munin node commands against the registry.
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"munind.sh/internal/registry"
)

var (
	// ErrNotFound is returned for a graph not in the current snapshot
	ErrNotFound = registry.ErrNotFound
	// ErrMalformedCommand is returned for fetch/config without exactly one argument
	ErrMalformedCommand = errors.New("malformed command")
	// ErrUnknownCommand is returned for input that is not a munin command
	ErrUnknownCommand = errors.New("unknown command")
)

// Command names, also used as metric labels
const (
	CmdNodes   = "nodes"
	CmdVersion = "version"
	CmdList    = "list"
	CmdCap     = "cap"
	CmdFetch   = "fetch"
	CmdConfig  = "config"
	CmdQuit    = "quit"
	CmdUnknown = "unknown"
)

// ImplementationName is the node name reported by the version command
const ImplementationName = "munins"

// GraphSource hands out the snapshot to serve a command from
type GraphSource interface {
	Snapshot() *registry.Snapshot
}

// Identity describes the node to collectors
type Identity struct {
	Hostname string
	Version  string
}

// Banner is the greeting written when a connection opens
func (id Identity) Banner() string {
	return "# munin node at " + id.Hostname
}

// ConfigFlag records whether configuration has been sent. One flag per
// connection scopes dirtyconfig to the session; sharing a flag across
// connections makes it process wide.
type ConfigFlag struct {
	sent atomic.Bool
}

// MarkSent records that a config reply went out
func (f *ConfigFlag) MarkSent() { f.sent.Store(true) }

// Sent reports whether a config reply went out
func (f *ConfigFlag) Sent() bool { return f.sent.Load() }

// Session is the per-connection command interpreter
type Session struct {
	graphs GraphSource
	ident  Identity
	flag   *ConfigFlag
}

// NewSession creates a session. A nil flag gives the session its own.
func NewSession(graphs GraphSource, ident Identity, flag *ConfigFlag) *Session {
	if flag == nil {
		flag = &ConfigFlag{}
	}
	return &Session{graphs: graphs, ident: ident, flag: flag}
}

// IsQuit reports whether line ends the session
func IsQuit(line string) bool {
	return line == "" || line == CmdQuit
}

// CommandName classifies a line for logging and metrics
func CommandName(line string) string {
	switch {
	case IsQuit(line):
		return CmdQuit
	case line == CmdNodes:
		return CmdNodes
	case line == CmdVersion:
		return CmdVersion
	case strings.HasPrefix(line, CmdList):
		return CmdList
	case strings.HasPrefix(line, CmdCap):
		return CmdCap
	case strings.HasPrefix(line, CmdFetch):
		return CmdFetch
	case strings.HasPrefix(line, CmdConfig):
		return CmdConfig
	}
	return CmdUnknown
}

// Handle runs one command line and returns the reply lines without
// terminators. Quit lines produce no reply; callers check IsQuit first.
func (s *Session) Handle(line string) ([]string, error) {
	switch CommandName(line) {
	case CmdQuit:
		return nil, nil
	case CmdNodes:
		return []string{s.ident.Hostname}, nil
	case CmdVersion:
		return []string{fmt.Sprintf("%s node on %s version: %s", ImplementationName, s.ident.Hostname, s.ident.Version)}, nil
	case CmdList:
		return []string{strings.Join(s.graphs.Snapshot().Graphs(), " ")}, nil
	case CmdCap:
		return []string{s.capabilities()}, nil
	case CmdFetch:
		return s.fetch(line)
	case CmdConfig:
		return s.config(line)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, line)
}

func (s *Session) capabilities() string {
	if s.flag.Sent() {
		return "cap multigraph"
	}
	return "cap multigraph dirtyconfig"
}

func (s *Session) fetch(line string) ([]string, error) {
	graph, err := argument(line)
	if err != nil {
		return nil, err
	}

	snap := s.graphs.Snapshot()
	members, err := snap.Members(graph)
	if err != nil {
		return nil, err
	}

	reply := make([]string, 0, len(members)+1)
	for _, member := range members {
		reply = append(reply, member+".value "+snap.Value(member).String())
	}
	return append(reply, registry.Sentinel), nil
}

func (s *Session) config(line string) ([]string, error) {
	graph, err := argument(line)
	if err != nil {
		return nil, err
	}

	config, err := s.graphs.Snapshot().Config(graph)
	if err != nil {
		return nil, err
	}
	s.flag.MarkSent()
	return config, nil
}

// argument splits "<command> <graph>" on a single space
func argument(line string) (string, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedCommand, line)
	}
	return parts[1], nil
}

// ErrorReply renders a Handle error for the wire. fetch and config errors end
// with the sentinel so collectors reading to "." do not stall.
func ErrorReply(err error) []string {
	switch {
	case errors.Is(err, ErrNotFound):
		return []string{"# Unknown service", registry.Sentinel}
	case errors.Is(err, ErrMalformedCommand):
		return []string{"# Malformed command", registry.Sentinel}
	default:
		return []string{"# Unknown command. Try cap, list, nodes, config, fetch, version or quit"}
	}
}
