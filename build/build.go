/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package build assembles lowered functions into a runnable module: it splits
// mixed functions into host stubs and device kernels, lowers the remaining
// cross-thread intrinsics for the target, and hands the result to a backend.
package build

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/tech-ascent/tvm-go/backends"
	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/target"
	"k8s.io/klog/v2"
)

// Module is a built collection of functions, ready to call.
type Module struct {
	// Target the module was built for.
	Target *target.Target

	// Host functions, by entry-point name.
	Host map[string]*ir.LoweredFunc

	// Device kernels, by name.
	Device map[string]*ir.LoweredFunc

	backend backends.Backend
	exec    backends.Executable
}

// Build assembles the given lowered functions for a target and backend.
//
// backendConfig selects and configures the backend, in the
// "<backend_name>:<backend_configuration>" format of backends.NewWithConfig;
// empty means the default backend.
func Build(funcs []*ir.LoweredFunc, tgt *target.Target, backendConfig string) (m *Module, err error) {
	err = ir.CatchError(func() {
		m = assemble(funcs, tgt)
	})
	if err != nil {
		return nil, err
	}

	m.backend = backends.NewWithConfig(backendConfig)
	m.exec, err = m.backend.Build(hostList(m), deviceList(m), tgt)
	if err != nil {
		return nil, errors.Wrapf(ir.ErrBackendCallFailure,
			"backend %q failed to build module: %v", m.backend.Name(), err)
	}
	if klog.V(1).Enabled() {
		klog.Infof("built module: %s host functions, %s device kernels, target %s, backend %s",
			humanize.Comma(int64(len(m.Host))), humanize.Comma(int64(len(m.Device))),
			tgt, m.backend.Name())
	}
	return m, nil
}

func assemble(funcs []*ir.LoweredFunc, tgt *target.Target) *Module {
	m := &Module{
		Target: tgt,
		Host:   make(map[string]*ir.LoweredFunc, len(funcs)),
		Device: make(map[string]*ir.LoweredFunc),
	}
	for _, fn := range funcs {
		switch fn.Type {
		case ir.FuncTypeHost:
			checkName(m, fn.Name)
			m.Host[fn.Name] = fn
		case ir.FuncTypeDevice:
			checkName(m, fn.Name)
			m.Device[fn.Name] = fn
		case ir.FuncTypeMixed:
			checkName(m, fn.Name)
			host, kernels := splitHostDevice(fn)
			m.Host[fn.Name] = bindDeviceType(host, tgt)
			for _, kernel := range kernels {
				checkName(m, kernel.Name)
				checkLaunchExtents(kernel, tgt)
				m.Device[kernel.Name] = lowerThreadAllreduce(kernel, tgt.ThreadWarpSize)
			}
		}
	}
	return m
}

// checkName enforces that a function name is unique across both the host and
// device tables, generated kernel names included.
func checkName(m *Module, name string) {
	if _, dup := m.Host[name]; !dup {
		_, dup = m.Device[name]
		if !dup {
			return
		}
	}
	ir.Throwf(ir.ErrDuplicateFunctionName, "module already has a function named %q", name)
}

// bindDeviceType annotates a host function that launches kernels with the
// device class its launches target.
func bindDeviceType(fn *ir.LoweredFunc, tgt *target.Target) *ir.LoweredFunc {
	if tgt.Kind == target.KindCPU {
		return fn
	}
	out := *fn
	out.Body = &ir.AttrStmt{
		Node:  tgt,
		Key:   ir.AttrDeviceType,
		Value: ir.Int(int(tgt.Kind)),
		Body:  fn.Body,
	}
	return &out
}

// checkLaunchExtents validates a kernel's constant thread extents against the
// target's per-block thread limit.
func checkLaunchExtents(kernel *ir.LoweredFunc, tgt *target.Target) {
	if tgt.MaxNumThreads <= 0 {
		return
	}
	threads := int64(1)
	ir.WalkStmts(kernel.Body, func(s ir.Stmt) {
		attr, ok := s.(*ir.AttrStmt)
		if !ok || attr.Key != ir.AttrThreadExtent {
			return
		}
		axis, ok := attr.Node.(*ir.IterVar)
		if !ok || !strings.HasPrefix(axis.ThreadTag, "threadIdx") {
			return
		}
		if extent, isConst := attr.Value.(*ir.IntImm); isConst {
			threads *= extent.Value
		}
	})
	if threads > int64(tgt.MaxNumThreads) {
		ir.Throwf(ir.ErrIllegalTransform,
			"kernel %q launches %d threads per block; target %s allows %d",
			kernel.Name, threads, tgt, tgt.MaxNumThreads)
	}
}

func hostList(m *Module) []*ir.LoweredFunc {
	out := make([]*ir.LoweredFunc, 0, len(m.Host))
	for _, fn := range m.Host {
		out = append(out, fn)
	}
	return out
}

func deviceList(m *Module) []*ir.LoweredFunc {
	out := make([]*ir.LoweredFunc, 0, len(m.Device))
	for _, fn := range m.Device {
		out = append(out, fn)
	}
	return out
}

// Entry returns the callable entry point with the given name, or nil when the
// module has no such host function.
func (m *Module) Entry(name string) backends.Callable {
	if m.exec == nil {
		return nil
	}
	return m.exec.Entry(name)
}

// Finalize releases the executable behind the module.
func (m *Module) Finalize() {
	if m.exec != nil {
		m.exec.Finalize()
		m.exec = nil
	}
}
