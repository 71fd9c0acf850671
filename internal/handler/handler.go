// Package handler turns parsed requests into encoded responses.
package handler

import (
	"bytes"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/VoolFI71/pollkv/internal/metrics"
	"github.com/VoolFI71/pollkv/internal/protocol"
	"github.com/VoolFI71/pollkv/internal/storage"
)

const tooBigMessage = "response is too big"

type command struct {
	name    []byte
	arity   int
	run     func(d *Dispatcher, args [][]byte, out []byte) []byte
	calls   *vm.Counter
	latency *vm.Histogram
}

func newCommand(name string, arity int, run func(*Dispatcher, [][]byte, []byte) []byte) *command {
	return &command{
		name:    []byte(name),
		arity:   arity,
		run:     run,
		calls:   metrics.Commands(name),
		latency: metrics.CommandDuration(name),
	}
}

var (
	cmdGet  = newCommand("get", 2, (*Dispatcher).get)
	cmdSet  = newCommand("set", 3, (*Dispatcher).set)
	cmdDel  = newCommand("del", 2, (*Dispatcher).del)
	cmdKeys = newCommand("keys", 1, (*Dispatcher).keys)
)

// Dispatcher executes commands against one store. Like the store, it is
// driven from a single event loop.
type Dispatcher struct {
	st  *storage.Store
	log *zap.Logger
}

func New(st *storage.Store, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{st: st, log: log}
}

// Execute appends exactly one encoded response payload for args to dst.
// A payload that would not fit in a frame is replaced by a TooBig error.
func (d *Dispatcher) Execute(args [][]byte, dst []byte) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.B = d.execute(args, buf.B[:0])
	if len(buf.B) > protocol.MaxMessageSize {
		metrics.ResponsesTooBig.Inc()
		return protocol.AppendError(dst, protocol.ErrCodeTooBig, tooBigMessage)
	}
	return append(dst, buf.B...)
}

func (d *Dispatcher) execute(args [][]byte, out []byte) []byte {
	cmd := lookup(args)
	if cmd == nil {
		metrics.UnknownCommands.Inc()
		if d.log.Core().Enabled(zap.DebugLevel) {
			d.log.Debug("unknown command", zap.Int("argc", len(args)))
		}
		return protocol.AppendError(out, protocol.ErrCodeUnknown, "Unknown cmd")
	}
	if len(args) != cmd.arity {
		return protocol.AppendError(out, protocol.ErrCodeArity,
			"wrong number of arguments for '"+string(cmd.name)+"' command")
	}

	start := time.Now()
	out = cmd.run(d, args, out)
	cmd.calls.Inc()
	cmd.latency.UpdateDuration(start)
	return out
}

func lookup(args [][]byte) *command {
	if len(args) == 0 || len(args[0]) == 0 {
		return nil
	}
	name := args[0]

	var cmd *command
	switch name[0] | 0x20 {
	case 'g':
		cmd = cmdGet
	case 's':
		cmd = cmdSet
	case 'd':
		cmd = cmdDel
	case 'k':
		cmd = cmdKeys
	default:
		return nil
	}
	if !bytes.EqualFold(name, cmd.name) {
		return nil
	}
	return cmd
}

func (d *Dispatcher) get(args [][]byte, out []byte) []byte {
	v, ok := d.st.Get(args[1])
	if !ok {
		return protocol.AppendNil(out)
	}
	return protocol.AppendString(out, v)
}

func (d *Dispatcher) set(args [][]byte, out []byte) []byte {
	d.st.Set(args[1], args[2])
	return protocol.AppendNil(out)
}

func (d *Dispatcher) del(args [][]byte, out []byte) []byte {
	if d.st.Del(args[1]) {
		return protocol.AppendInt(out, 1)
	}
	return protocol.AppendInt(out, 0)
}

// keys stops as soon as the reply cannot fit in a frame; Execute then
// replaces the truncated array with a TooBig error.
func (d *Dispatcher) keys(_ [][]byte, out []byte) []byte {
	start := len(out)
	out = protocol.AppendArrayHeader(out, uint32(d.st.Len()))
	d.st.Keys(func(key []byte) bool {
		out = protocol.AppendString(out, key)
		return len(out)-start <= protocol.MaxMessageSize
	})
	return out
}
