// Package bench drives SET/GET load against a running server and reports
// throughput and latency percentiles.
package bench

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/VoolFI71/pollkv/internal/client"
	"github.com/VoolFI71/pollkv/internal/protocol"
)

// Op builds the request for operation number idx.
type Op func(idx int) [][]byte

type Options struct {
	Addr    string
	Ops     int
	Clients int
	// Pipeline is the number of requests sent before reading responses.
	// 1 measures single request latency.
	Pipeline int
	Timeout  time.Duration
}

type Results struct {
	Name         string
	TotalOps     int64
	Errors       int64
	Duration     time.Duration
	OpsPerSecond float64
	AvgLatency   time.Duration
	MinLatency   time.Duration
	MaxLatency   time.Duration
	P50Latency   time.Duration
	P95Latency   time.Duration
	P99Latency   time.Duration
}

func SetOp(idx int) [][]byte {
	return [][]byte{
		[]byte("set"),
		[]byte("bench_key_" + strconv.Itoa(idx)),
		[]byte("bench_value_" + strconv.Itoa(idx)),
	}
}

// GetOp reads keys written by Prepare.
func GetOp(keyspace int) Op {
	return func(idx int) [][]byte {
		return [][]byte{[]byte("get"), []byte("bench_key_" + strconv.Itoa(idx%keyspace))}
	}
}

// MixedOp alternates SET and GET.
func MixedOp(keyspace int) Op {
	get := GetOp(keyspace)
	return func(idx int) [][]byte {
		if idx%2 == 0 {
			return [][]byte{
				[]byte("set"),
				[]byte("mixed_key_" + strconv.Itoa(idx)),
				[]byte("mixed_value_" + strconv.Itoa(idx)),
			}
		}
		return get(idx)
	}
}

// Prepare writes keyspace keys so GET runs hit existing entries.
func Prepare(opts Options, keyspace int) error {
	c, err := client.DialTimeout(opts.Addr, opts.Timeout)
	if err != nil {
		return err
	}
	defer c.Close()

	const batch = 100
	for i := 0; i < keyspace; i += batch {
		n := min(batch, keyspace-i)
		if err := setDeadline(c, opts.Timeout); err != nil {
			return err
		}
		for j := 0; j < n; j++ {
			if err := c.Send(SetOp(i + j)...); err != nil {
				return err
			}
		}
		if err := c.Flush(); err != nil {
			return err
		}
		if err := c.Discard(n); err != nil {
			return err
		}
	}
	return nil
}

// setDeadline bounds the next batch; a zero timeout leaves I/O unbounded.
func setDeadline(c *client.Client, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	return c.SetDeadline(time.Now().Add(timeout))
}

type collector struct {
	mu        sync.Mutex
	latencies []time.Duration
	ops       atomic.Int64
	errors    atomic.Int64
}

func (col *collector) record(d time.Duration) {
	col.mu.Lock()
	col.latencies = append(col.latencies, d)
	col.mu.Unlock()
}

// Run spreads opts.Ops operations over opts.Clients connections, each
// served by a worker from a goroutine pool.
func Run(name string, opts Options, op Op) (Results, error) {
	if opts.Clients < 1 {
		opts.Clients = 1
	}
	if opts.Pipeline < 1 {
		opts.Pipeline = 1
	}
	opsPerClient := max(opts.Ops/opts.Clients, 1)

	pool, err := ants.NewPool(opts.Clients)
	if err != nil {
		return Results{}, err
	}
	defer pool.Release()

	col := &collector{latencies: make([]time.Duration, 0, opts.Ops/opts.Pipeline+1)}
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < opts.Clients; i++ {
		first := i * opsPerClient
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			runClient(opts, op, first, opsPerClient, col)
		}); err != nil {
			wg.Done()
			col.errors.Add(int64(opsPerClient))
		}
	}
	wg.Wait()

	return summarize(name, time.Since(start), col), nil
}

func runClient(opts Options, op Op, first, count int, col *collector) {
	c, err := client.DialTimeout(opts.Addr, opts.Timeout)
	if err != nil {
		col.errors.Add(int64(count))
		return
	}
	defer c.Close()

	for done := 0; done < count; {
		batch := min(opts.Pipeline, count-done)
		begin := time.Now()
		if err := setDeadline(c, opts.Timeout); err != nil {
			col.errors.Add(int64(count - done))
			return
		}

		failed := 0
		for j := 0; j < batch; j++ {
			if err := c.Send(op(first + done + j)...); err != nil {
				failed++
			}
		}
		if err := c.Flush(); err != nil {
			col.errors.Add(int64(count - done))
			return
		}
		for c.Pending() > 0 {
			v, err := c.Receive()
			if err != nil {
				col.errors.Add(int64(count - done))
				return
			}
			if v.Kind == protocol.KindErr {
				failed++
			}
		}

		col.record(time.Since(begin))
		col.errors.Add(int64(failed))
		col.ops.Add(int64(batch - failed))
		done += batch
	}
}

func summarize(name string, elapsed time.Duration, col *collector) Results {
	r := Results{
		Name:     name,
		TotalOps: col.ops.Load(),
		Errors:   col.errors.Load(),
		Duration: elapsed,
	}
	if elapsed > 0 {
		r.OpsPerSecond = float64(r.TotalOps) / elapsed.Seconds()
	}

	lat := col.latencies
	if len(lat) == 0 {
		return r
	}
	slices.Sort(lat)

	var total time.Duration
	for _, l := range lat {
		total += l
	}
	r.AvgLatency = total / time.Duration(len(lat))
	r.MinLatency = lat[0]
	r.MaxLatency = lat[len(lat)-1]
	r.P50Latency = percentile(lat, 50)
	r.P95Latency = percentile(lat, 95)
	r.P99Latency = percentile(lat, 99)
	return r
}

func percentile(sorted []time.Duration, p int) time.Duration {
	return sorted[len(sorted)*p/100]
}

func (r Results) Print(w io.Writer) {
	fmt.Fprintf(w, "\n=== %s ===\n", r.Name)
	fmt.Fprintf(w, "  ops:        %d\n", r.TotalOps)
	fmt.Fprintf(w, "  errors:     %d\n", r.Errors)
	fmt.Fprintf(w, "  duration:   %v\n", r.Duration)
	fmt.Fprintf(w, "  throughput: %.2f ops/sec (%.2f K ops/sec)\n", r.OpsPerSecond, r.OpsPerSecond/1000)
	fmt.Fprintf(w, "  latency:\n")
	fmt.Fprintf(w, "    avg: %10v\n", r.AvgLatency)
	fmt.Fprintf(w, "    p50: %10v\n", r.P50Latency)
	fmt.Fprintf(w, "    p95: %10v\n", r.P95Latency)
	fmt.Fprintf(w, "    p99: %10v\n", r.P99Latency)
	fmt.Fprintf(w, "    min: %10v\n", r.MinLatency)
	fmt.Fprintf(w, "    max: %10v\n", r.MaxLatency)
}
