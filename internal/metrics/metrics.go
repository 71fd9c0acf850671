// Package metrics exposes server counters in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"

	vm "github.com/VictoriaMetrics/metrics"
)

var (
	ConnectionsAccepted = vm.NewCounter("pollkv_connections_accepted_total")
	ConnectionsClosed   = vm.NewCounter("pollkv_connections_closed_total")
	ProtocolErrors      = vm.NewCounter("pollkv_protocol_errors_total")
	ResponsesTooBig     = vm.NewCounter("pollkv_responses_too_big_total")
	UnknownCommands     = vm.NewCounter("pollkv_unknown_commands_total")
)

// Commands returns the call counter for a command name.
func Commands(name string) *vm.Counter {
	return vm.GetOrCreateCounter(fmt.Sprintf(`pollkv_commands_total{command=%q}`, name))
}

// CommandDuration returns the latency histogram for a command name.
func CommandDuration(name string) *vm.Histogram {
	return vm.GetOrCreateHistogram(fmt.Sprintf(`pollkv_command_duration_seconds{command=%q}`, name))
}

func WritePrometheus(w io.Writer) {
	vm.WritePrometheus(w, true)
}

// Handler serves the registry on any path.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		WritePrometheus(w)
	})
}
