package testutil

import (
	"context"
	"sync"
	"time"

	"munind.sh/internal/stats"
)

// FakeSource is a stats.Source returning fixed readings. Set Err[method] to
// make one reading fail; method names match the Source interface.
type FakeSource struct {
	mu sync.Mutex

	CPU       []float64
	Times     map[string]float64
	Load      stats.LoadAverage
	Mem       stats.Memory
	Disk      stats.DiskIO
	Usage     map[string]stats.DiskUsage
	Processes int
	Boot      time.Time
	Net       []stats.InterfaceIO

	Err   map[string]error
	Calls map[string]int
}

var _ stats.Source = (*FakeSource)(nil)

// NewFakeSource returns a source with plausible readings for every method
func NewFakeSource() *FakeSource {
	return &FakeSource{
		CPU: []float64{10, 20},
		Times: map[string]float64{
			stats.CPUTimeUser:   100.5,
			stats.CPUTimeSystem: 50.25,
			stats.CPUTimeIdle:   1000,
			stats.CPUTimeNice:   1,
		},
		Load: stats.LoadAverage{Load1: 0.50, Load5: 0.30, Load15: 0.10},
		Mem:  stats.Memory{Total: 8 << 30, Used: 3 << 30, Available: 5 << 30},
		Disk: stats.DiskIO{ReadBytes: 4096, WriteBytes: 8192},
		Usage: map[string]stats.DiskUsage{
			"/": {Path: "/", Total: 100 << 30, Used: 40 << 30, Free: 60 << 30},
		},
		Processes: 123,
		Boot:      time.Unix(1_700_000_000, 0),
		Net: []stats.InterfaceIO{
			{Name: "lo", BytesSent: 10, BytesRecv: 10},
			{Name: "eth0", BytesSent: 2000, BytesRecv: 3000},
		},
		Err:   make(map[string]error),
		Calls: make(map[string]int),
	}
}

// Fail makes the named method return err until cleared with Fail(method, nil)
func (f *FakeSource) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Err, method)
		return
	}
	f.Err[method] = err
}

// CallCount returns how many times method has been invoked
func (f *FakeSource) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[method]
}

func (f *FakeSource) call(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Calls == nil {
		f.Calls = make(map[string]int)
	}
	f.Calls[method]++
	return f.Err[method]
}

func (f *FakeSource) CPUPercent(ctx context.Context) ([]float64, error) {
	if err := f.call("CPUPercent"); err != nil {
		return nil, err
	}
	return append([]float64(nil), f.CPU...), nil
}

func (f *FakeSource) CPUTimes(ctx context.Context) (map[string]float64, error) {
	if err := f.call("CPUTimes"); err != nil {
		return nil, err
	}
	times := make(map[string]float64, len(f.Times))
	for k, v := range f.Times {
		times[k] = v
	}
	return times, nil
}

func (f *FakeSource) LoadAverage(ctx context.Context) (*stats.LoadAverage, error) {
	if err := f.call("LoadAverage"); err != nil {
		return nil, err
	}
	load := f.Load
	return &load, nil
}

func (f *FakeSource) Memory(ctx context.Context) (*stats.Memory, error) {
	if err := f.call("Memory"); err != nil {
		return nil, err
	}
	m := f.Mem
	return &m, nil
}

func (f *FakeSource) DiskIO(ctx context.Context) (*stats.DiskIO, error) {
	if err := f.call("DiskIO"); err != nil {
		return nil, err
	}
	d := f.Disk
	return &d, nil
}

func (f *FakeSource) DiskUsage(ctx context.Context, path string) (*stats.DiskUsage, error) {
	if err := f.call("DiskUsage"); err != nil {
		return nil, err
	}
	u, ok := f.Usage[path]
	if !ok {
		return nil, stats.ErrUnsupported
	}
	return &u, nil
}

func (f *FakeSource) ProcessCount(ctx context.Context) (int, error) {
	if err := f.call("ProcessCount"); err != nil {
		return 0, err
	}
	return f.Processes, nil
}

func (f *FakeSource) BootTime(ctx context.Context) (time.Time, error) {
	if err := f.call("BootTime"); err != nil {
		return time.Time{}, err
	}
	return f.Boot, nil
}

func (f *FakeSource) NetIO(ctx context.Context) ([]stats.InterfaceIO, error) {
	if err := f.call("NetIO"); err != nil {
		return nil, err
	}
	return append([]stats.InterfaceIO(nil), f.Net...), nil
}
