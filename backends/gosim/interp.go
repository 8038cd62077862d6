package gosim

import (
	"math"
	"math/bits"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/types/dtypes"
)

// env is one interpreter scope: scalar bindings plus the buffers behind
// handle variables. The arrays themselves are shared across scopes; both
// binding maps are copied when a parallel loop forks, so an Allocate inside
// a parallel body binds per goroutine instead of racing on one map.
type env struct {
	exec *executable
	vars map[*ir.Var]any
	bufs map[*ir.Var]*Array
}

func newEnv(exec *executable) *env {
	return &env{exec: exec, vars: make(map[*ir.Var]any), bufs: make(map[*ir.Var]*Array)}
}

func (e *env) fork() *env {
	vars := make(map[*ir.Var]any, len(e.vars))
	for k, v := range e.vars {
		vars[k] = v
	}
	bufs := make(map[*ir.Var]*Array, len(e.bufs))
	for k, v := range e.bufs {
		bufs[k] = v
	}
	return &env{exec: e.exec, vars: vars, bufs: bufs}
}

// bind sets a scalar binding and returns a closure restoring the previous one.
func (e *env) bind(v *ir.Var, value any) func() {
	old, had := e.vars[v]
	e.vars[v] = value
	return func() {
		if had {
			e.vars[v] = old
		} else {
			delete(e.vars, v)
		}
	}
}

func (e *env) evalStmt(s ir.Stmt) {
	switch node := s.(type) {
	case *ir.LetStmt:
		restore := e.bind(node.Var, e.evalExpr(node.Value))
		e.evalStmt(node.Body)
		restore()
	case *ir.AttrStmt:
		// Thread and virtual-thread extents execute serialized: the annotated
		// axis becomes an ordinary loop.
		if node.Key == ir.AttrThreadExtent || node.Key == ir.AttrVirtualThread {
			axis := node.Node.(*ir.IterVar)
			extent := asInt(e.evalExpr(node.Value))
			for i := int64(0); i < extent; i++ {
				restore := e.bind(axis.Var, i)
				e.evalStmt(node.Body)
				restore()
			}
			return
		}
		e.evalStmt(node.Body)
	case *ir.AssertStmt:
		if asInt(e.evalExpr(node.Cond)) == 0 {
			exceptions.Panicf("assertion failed: %v", e.evalExpr(node.Message))
		}
		e.evalStmt(node.Body)
	case *ir.For:
		e.evalFor(node)
	case *ir.Store:
		e.evalStore(node)
	case *ir.Allocate:
		size := int64(1)
		for _, extent := range node.Extents {
			size *= asInt(e.evalExpr(extent))
		}
		old, had := e.bufs[node.Buffer]
		e.bufs[node.Buffer] = NewArray(node.Dtype, int(size))
		e.evalStmt(node.Body)
		if had {
			e.bufs[node.Buffer] = old
		} else {
			delete(e.bufs, node.Buffer)
		}
	case *ir.IfThenElse:
		if asInt(e.evalExpr(node.Cond)) != 0 {
			e.evalStmt(node.Then)
		} else if node.Else != nil {
			e.evalStmt(node.Else)
		}
	case *ir.Evaluate:
		e.evalExpr(node.Value)
	case *ir.Seq:
		for _, sub := range node.Stmts {
			e.evalStmt(sub)
		}
	case *ir.Prefetch:
		// A hint; nothing to do.
	default:
		exceptions.Panicf("gosim cannot execute statement %T (did the function go through lowering?)", s)
	}
}

func (e *env) evalFor(node *ir.For) {
	min := asInt(e.evalExpr(node.Min))
	extent := asInt(e.evalExpr(node.Extent))
	if node.Kind == ir.ForParallel && extent > 1 {
		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstPanic any
		for i := int64(0); i < extent; i++ {
			wg.Add(1)
			go func(iter int64) {
				defer wg.Done()
				defer func() {
					if p := recover(); p != nil {
						mu.Lock()
						if firstPanic == nil {
							firstPanic = p
						}
						mu.Unlock()
					}
				}()
				forked := e.fork()
				forked.vars[node.LoopVar] = min + iter
				forked.evalStmt(node.Body)
			}(i)
		}
		wg.Wait()
		if firstPanic != nil {
			panic(firstPanic)
		}
		return
	}
	// Vectorized and unrolled loops that survived lowering run serially.
	for i := int64(0); i < extent; i++ {
		restore := e.bind(node.LoopVar, min+i)
		e.evalStmt(node.Body)
		restore()
	}
}

func (e *env) evalStore(node *ir.Store) {
	buf := e.buffer(node.Buffer)
	index := e.evalExpr(node.Index)
	value := e.evalExpr(node.Value)
	if lanes, isVector := index.([]any); isVector {
		values, ok := value.([]any)
		if !ok {
			exceptions.Panicf("gosim: vector store of a scalar value into %q", node.Buffer.Name)
		}
		for lane, idx := range lanes {
			buf.store(int(asInt(idx)), values[lane])
		}
		return
	}
	buf.store(int(asInt(index)), value)
}

func (e *env) buffer(v *ir.Var) *Array {
	buf, ok := e.bufs[v]
	if !ok {
		exceptions.Panicf("gosim: buffer %q is not bound", v.Name)
	}
	return buf
}

func (e *env) evalExpr(expr ir.Expr) any {
	switch node := expr.(type) {
	case *ir.Var:
		if value, ok := e.vars[node]; ok {
			return value
		}
		if buf, ok := e.bufs[node]; ok {
			return buf
		}
		exceptions.Panicf("gosim: variable %q is not bound", node.Name)
	case *ir.IntImm:
		if node.Dtype.IsInt() && !node.Dtype.IsSigned() {
			return uint64(node.Value)
		}
		return node.Value
	case *ir.FloatImm:
		return node.Value
	case *ir.StringImm:
		return node.Value
	case *ir.Cast:
		return mapLanes(e.evalExpr(node.Value), func(v any) any {
			return castScalar(node.Dtype.Element(), v)
		})
	case *ir.Binary:
		return lanewise2(e.evalExpr(node.A), e.evalExpr(node.B), func(a, b any) any {
			return evalBinary(node.Kind, node.Dtype.Element(), a, b)
		})
	case *ir.Compare:
		return lanewise2(e.evalExpr(node.A), e.evalExpr(node.B), func(a, b any) any {
			return evalCompare(node.Kind, node.A.DType().Element(), a, b)
		})
	case *ir.Not:
		return mapLanes(e.evalExpr(node.Value), func(v any) any {
			return boolScalar(asInt(v) == 0)
		})
	case *ir.And:
		if asInt(e.evalExpr(node.A)) == 0 {
			return boolScalar(false)
		}
		return boolScalar(asInt(e.evalExpr(node.B)) != 0)
	case *ir.Or:
		if asInt(e.evalExpr(node.A)) != 0 {
			return boolScalar(true)
		}
		return boolScalar(asInt(e.evalExpr(node.B)) != 0)
	case *ir.Select:
		cond := e.evalExpr(node.Cond)
		trueValue := e.evalExpr(node.TrueValue)
		falseValue := e.evalExpr(node.FalseValue)
		return lanewise2(cond, lanewise2(trueValue, falseValue, func(t, f any) any {
			return [2]any{t, f}
		}), func(c, tf any) any {
			pair := tf.([2]any)
			if asInt(c) != 0 {
				return pair[0]
			}
			return pair[1]
		})
	case *ir.Call:
		return e.evalCall(node)
	case *ir.Let:
		restore := e.bind(node.Var, e.evalExpr(node.Value))
		value := e.evalExpr(node.Body)
		restore()
		return value
	case *ir.Ramp:
		base := asInt(e.evalExpr(node.Base))
		stride := asInt(e.evalExpr(node.Stride))
		lanes := make([]any, node.Lanes)
		for i := range lanes {
			lanes[i] = base + int64(i)*stride
		}
		return lanes
	case *ir.Broadcast:
		value := e.evalExpr(node.Value)
		lanes := make([]any, node.Lanes)
		for i := range lanes {
			lanes[i] = value
		}
		return lanes
	case *ir.Load:
		buf := e.buffer(node.Buffer)
		return mapLanes(e.evalExpr(node.Index), func(idx any) any {
			return buf.load(int(asInt(idx)))
		})
	}
	exceptions.Panicf("gosim cannot evaluate expression %T", expr)
	return nil
}

func (e *env) evalCall(node *ir.Call) any {
	switch node.Type {
	case ir.CallPacked:
		return e.evalPackedCall(node)
	case ir.CallExtern:
		exceptions.Panicf("gosim cannot call external symbol %q", node.Name)
	}
	if node.Name == ir.IntrinIfThenElse {
		// Lazy conditional: only the selected branch is evaluated.
		if asInt(e.evalExpr(node.Args[0])) != 0 {
			return e.evalExpr(node.Args[1])
		}
		return e.evalExpr(node.Args[2])
	}
	args := make([]any, len(node.Args))
	for i, arg := range node.Args {
		args[i] = e.evalExpr(arg)
	}
	if node.Name == ir.IntrinPopcount {
		return mapLanes(args[0], func(v any) any {
			return int64(bits.OnesCount64(asUint(v)))
		})
	}
	unary := func(f func(float64) float64) any {
		return mapLanes(args[0], func(v any) any { return f(asFloat(v)) })
	}
	switch node.Name {
	case ir.IntrinExp:
		return unary(math.Exp)
	case ir.IntrinLog:
		return unary(math.Log)
	case ir.IntrinSqrt:
		return unary(math.Sqrt)
	case ir.IntrinFloor:
		return unary(math.Floor)
	case ir.IntrinCeil:
		return unary(math.Ceil)
	case ir.IntrinRound:
		return unary(math.Round)
	case ir.IntrinPow:
		return lanewise2(args[0], args[1], func(a, b any) any {
			return math.Pow(asFloat(a), asFloat(b))
		})
	}
	exceptions.Panicf("gosim does not implement intrinsic %q", node.Name)
	return nil
}

// evalPackedCall dispatches a packed call to another function of the same
// executable, the way host code launches device kernels.
func (e *env) evalPackedCall(node *ir.Call) any {
	fn := e.exec.funcs[node.Name]
	if fn == nil {
		exceptions.Panicf("gosim: packed call to unknown function %q", node.Name)
	}
	args := make([]any, len(node.Args))
	for i, arg := range node.Args {
		args[i] = e.evalExpr(arg)
	}
	e.exec.run(fn, args)
	return int64(0)
}

func boolScalar(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

// mapLanes applies f to a scalar, or lane-wise to a vector value.
func mapLanes(value any, f func(any) any) any {
	if lanes, isVector := value.([]any); isVector {
		out := make([]any, len(lanes))
		for i, lane := range lanes {
			out[i] = f(lane)
		}
		return out
	}
	return f(value)
}

// lanewise2 applies f pairwise over two values, broadcasting a scalar side
// over a vector one.
func lanewise2(a, b any, f func(a, b any) any) any {
	av, aVec := a.([]any)
	bv, bVec := b.([]any)
	if !aVec && !bVec {
		return f(a, b)
	}
	n := len(av)
	if !aVec {
		n = len(bv)
	}
	out := make([]any, n)
	for i := range out {
		ai, bi := a, b
		if aVec {
			ai = av[i]
		}
		if bVec {
			bi = bv[i]
		}
		out[i] = f(ai, bi)
	}
	return out
}

func castScalar(dtype dtypes.DType, value any) any {
	switch {
	case dtype.IsFloat():
		// Narrow-precision floats round to their storage precision.
		return dtypes.TruncateToStorage(dtype, asFloat(value))
	case dtype.IsBool():
		return boolScalar(asInt(value) != 0)
	case dtype.IsSigned():
		return truncInt(dtype, asInt(value))
	default:
		return truncUint(dtype, asUint(value))
	}
}

func truncInt(dtype dtypes.DType, value int64) int64 {
	switch dtype.Bits {
	case 8:
		return int64(int8(value))
	case 16:
		return int64(int16(value))
	case 32:
		return int64(int32(value))
	}
	return value
}

func truncUint(dtype dtypes.DType, value uint64) uint64 {
	switch dtype.Bits {
	case 8:
		return uint64(uint8(value))
	case 16:
		return uint64(uint16(value))
	case 32:
		return uint64(uint32(value))
	}
	return value
}

func evalBinary(kind ir.BinaryKind, dtype dtypes.DType, a, b any) any {
	switch {
	case dtype.IsFloat():
		x, y := asFloat(a), asFloat(b)
		switch kind {
		case ir.BinAdd:
			return x + y
		case ir.BinSub:
			return x - y
		case ir.BinMul:
			return x * y
		case ir.BinDiv:
			return x / y
		case ir.BinMod:
			return math.Mod(x, y)
		case ir.BinMin:
			return math.Min(x, y)
		}
		return math.Max(x, y)
	case dtype.IsSigned() || dtype.IsBool():
		x, y := asInt(a), asInt(b)
		switch kind {
		case ir.BinAdd:
			return truncInt(dtype, x+y)
		case ir.BinSub:
			return truncInt(dtype, x-y)
		case ir.BinMul:
			return truncInt(dtype, x*y)
		case ir.BinDiv:
			return x / y
		case ir.BinMod:
			return x % y
		case ir.BinMin:
			return min(x, y)
		}
		return max(x, y)
	default:
		x, y := asUint(a), asUint(b)
		switch kind {
		case ir.BinAdd:
			return truncUint(dtype, x+y)
		case ir.BinSub:
			return truncUint(dtype, x-y)
		case ir.BinMul:
			return truncUint(dtype, x*y)
		case ir.BinDiv:
			return x / y
		case ir.BinMod:
			return x % y
		case ir.BinMin:
			return min(x, y)
		}
		return max(x, y)
	}
}

func evalCompare(kind ir.CompareKind, dtype dtypes.DType, a, b any) any {
	var lt, eq bool
	switch {
	case dtype.IsFloat():
		x, y := asFloat(a), asFloat(b)
		lt, eq = x < y, x == y
	case dtype.IsSigned() || dtype.IsBool():
		x, y := asInt(a), asInt(b)
		lt, eq = x < y, x == y
	default:
		x, y := asUint(a), asUint(b)
		lt, eq = x < y, x == y
	}
	switch kind {
	case ir.CmpEQ:
		return boolScalar(eq)
	case ir.CmpNE:
		return boolScalar(!eq)
	case ir.CmpLT:
		return boolScalar(lt)
	case ir.CmpLE:
		return boolScalar(lt || eq)
	case ir.CmpGT:
		return boolScalar(!lt && !eq)
	}
	return boolScalar(!lt)
}
