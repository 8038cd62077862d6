// Package gosim is the reference backend: a pure Go interpreter over lowered
// statement trees. It needs no code generation and no hardware, runs parallel
// loops on goroutines and serializes device thread axes, so the same lowered
// module produces the same values a real backend would.
//
// Import it for its side effects to register it:
//
//	import _ "github.com/tech-ascent/tvm-go/backends/gosim"
package gosim

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/tech-ascent/tvm-go/backends"
	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/target"
	"k8s.io/klog/v2"
)

// BackendName to use in backends.NewWithConfig to select it.
const BackendName = "gosim"

func init() {
	backends.Register(BackendName, New)
}

// Backend implements backends.Backend by interpreting lowered functions.
type Backend struct{}

// New constructs a gosim backend. The configuration string is unused.
func New(config string) backends.Backend {
	if config != "" {
		klog.Warningf("gosim backend takes no configuration, ignoring %q", config)
	}
	return &Backend{}
}

// Name of the backend.
func (b *Backend) Name() string { return BackendName }

// Description of the backend.
func (b *Backend) Description() string {
	return "Pure Go reference interpreter over lowered functions"
}

// Build collects the module's functions into an executable. There is no code
// generation; functions are interpreted on call.
func (b *Backend) Build(host, device []*ir.LoweredFunc, tgt *target.Target) (backends.Executable, error) {
	exec := &executable{funcs: make(map[string]*ir.LoweredFunc, len(host)+len(device))}
	for _, fn := range append(host, device...) {
		exec.funcs[fn.Name] = fn
	}
	for _, fn := range host {
		exec.entries = append(exec.entries, fn.Name)
	}
	klog.V(1).Infof("gosim: built executable with %d functions for target %s", len(exec.funcs), tgt)
	return exec, nil
}

type executable struct {
	funcs   map[string]*ir.LoweredFunc
	entries []string
}

// Entry returns the named entry point, or nil when the executable has no such
// function.
func (e *executable) Entry(name string) backends.Callable {
	fn, ok := e.funcs[name]
	if !ok {
		return nil
	}
	return func(args ...any) (err error) {
		err = ir.CatchError(func() {
			e.run(fn, args)
		})
		if err != nil {
			return errors.WithMessagef(err, "calling %q", name)
		}
		return nil
	}
}

// Finalize releases the executable. The interpreter holds no external
// resources, so it only drops the function table.
func (e *executable) Finalize() {
	e.funcs = nil
	e.entries = nil
}

// run binds the call arguments to the function's parameters and interprets
// the body.
func (e *executable) run(fn *ir.LoweredFunc, args []any) {
	if len(args) != len(fn.Args) {
		ir.Throwf(ir.ErrArityMismatch, "function %q takes %d arguments, called with %d",
			fn.Name, len(fn.Args), len(args))
	}
	env := newEnv(e)
	for i, arg := range fn.Args {
		if arg.Buffer != nil {
			array, ok := args[i].(*Array)
			if !ok {
				exceptions.Panicf("argument %d of %q (%s) must be a *gosim.Array, got %T",
					i, fn.Name, arg.Name(), args[i])
			}
			if array.DType() != arg.Buffer.Dtype {
				exceptions.Panicf("argument %d of %q (%s) has dtype %s, function wants %s",
					i, fn.Name, arg.Name(), array.DType(), arg.Buffer.Dtype)
			}
			env.bufs[arg.Buffer.Data] = array
			continue
		}
		// Device kernels take their buffers as plain handle parameters.
		if array, ok := args[i].(*Array); ok {
			env.bufs[arg.Var] = array
			continue
		}
		env.vars[arg.Var] = normalizeScalar(fn.Name, arg, args[i])
	}
	env.evalStmt(fn.Body)
}

// normalizeScalar converts a Go scalar argument to the interpreter's
// canonical form for the parameter's dtype.
func normalizeScalar(fnName string, arg ir.Arg, value any) any {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case float32:
		return float64(v)
	case float64:
		return v
	case bool:
		return boolScalar(v)
	case *Array:
		return v
	}
	exceptions.Panicf("argument %q of %q: unsupported scalar type %T", arg.Name(), fnName, value)
	return nil
}
