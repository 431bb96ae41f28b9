// Package discovery advertises munin nodes over mDNS and finds them.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

// DefaultServiceType is the mDNS service munin nodes are advertised under
const DefaultServiceType = "_munin._tcp"

// Node is a munin node found on the network
type Node struct {
	Instance string
	Hostname string
	Address  string
	Port     int
	Version  string
}

// HostPort returns the address a collector dials
func (n Node) HostPort() string {
	return net.JoinHostPort(n.Address, strconv.Itoa(n.Port))
}

// Advertiser announces this node on the local network
type Advertiser struct {
	hostname    string
	port        int
	serviceType string
	version     string
	server      *mdns.Server
	mu          sync.Mutex
}

// New creates an advertiser for the node listening on port
func New(hostname string, port int, serviceType, version string) *Advertiser {
	if serviceType == "" {
		serviceType = DefaultServiceType
	}
	return &Advertiser{
		hostname:    hostname,
		port:        port,
		serviceType: serviceType,
		version:     version,
	}
}

// Start begins answering mDNS queries
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	service, err := mdns.NewMDNSService(
		a.hostname,
		a.serviceType,
		"",
		"",
		a.port,
		nil,
		[]string{
			"node=" + a.hostname,
			"version=" + a.version,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mDNS server: %w", err)
	}

	a.server = server
	return nil
}

// Stop terminates the advertisement
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		err := a.server.Shutdown()
		a.server = nil
		return err
	}
	return nil
}

// Browse queries the network for munin nodes until timeout or ctx is done.
// Results are sorted by hostname.
func Browse(ctx context.Context, serviceType string, timeout time.Duration) ([]Node, error) {
	if serviceType == "" {
		serviceType = DefaultServiceType
	}

	nodes := make(map[string]Node)
	var nodesMu sync.Mutex
	entriesCh := make(chan *mdns.ServiceEntry, 16)
	collected := make(chan struct{})

	go func() {
		defer close(collected)
		for entry := range entriesCh {
			node := nodeFromEntry(entry)
			nodesMu.Lock()
			nodes[node.Instance] = node
			nodesMu.Unlock()
		}
	}()

	params := mdns.DefaultParams(serviceType)
	params.Timeout = timeout
	params.Entries = entriesCh
	params.DisableIPv6 = true

	queryErr := make(chan error, 1)
	go func() {
		queryErr <- mdns.Query(params)
		close(entriesCh)
	}()

	select {
	case err := <-queryErr:
		<-collected
		if err != nil {
			return nil, fmt.Errorf("mdns query failed: %w", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	nodesMu.Lock()
	defer nodesMu.Unlock()
	result := make([]Node, 0, len(nodes))
	for _, node := range nodes {
		result = append(result, node)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Hostname < result[j].Hostname })
	return result, nil
}

func nodeFromEntry(entry *mdns.ServiceEntry) Node {
	node := Node{
		Instance: entry.Name,
		Hostname: strings.TrimSuffix(entry.Host, "."),
		Port:     entry.Port,
	}
	if entry.AddrV4 != nil {
		node.Address = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		node.Address = entry.AddrV6.String()
	}

	// Copy InfoFields to avoid racing the mdns library
	fields := make([]string, len(entry.InfoFields))
	copy(fields, entry.InfoFields)
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "node":
			node.Hostname = value
		case "version":
			node.Version = value
		}
	}
	return node
}
