// Package backends defines the interface a code-generation and execution
// system needs to implement to run lowered functions, plus the registry the
// module assembler resolves backends from.
//
// A backend receives the host and device functions the assembler split a
// module into and returns an executable whose entry points can be called with
// concrete buffers. The reference pure-Go backend lives in backends/gosim;
// import it for its side effects to register it:
//
//	import _ "github.com/tech-ascent/tvm-go/backends/gosim"
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/tech-ascent/tvm-go/ir"
	"github.com/tech-ascent/tvm-go/target"
)

// Callable is one entry point of a built module. Arguments are backend
// specific; the gosim backend takes *gosim.Array buffers and Go scalars.
type Callable func(args ...any) error

// Executable is a built module held by a backend.
type Executable interface {
	// Entry returns the entry point with the given name, or nil when the
	// module has no such function.
	Entry(name string) Callable

	// Finalize releases the resources behind the executable, which becomes
	// invalid.
	Finalize()
}

// Backend is the API a backend implements.
type Backend interface {
	// Name returns the short name the backend registered itself under.
	Name() string

	// Description is a longer description of the backend, for pretty-printing.
	Description() string

	// Build turns the lowered host and device functions of one module into an
	// executable, generating code for the given target.
	Build(host, device []*ir.LoweredFunc, tgt *target.Target) (Executable, error)
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) Backend

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a backend constructor under the given name. The constructor takes
// the configuration string given to NewWithConfig.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the backend configuration to use if none is given.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// TVMGO_BACKEND is the environment variable with the default backend
// configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "gosim")
// and "<backend_configuration>" is backend specific.
const TVMGO_BACKEND = "TVMGO_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment TVMGO_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered.
func New() Backend {
	config, found := os.LookupEnv(TVMGO_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig creates the backend selected by a configuration string of the
// form "<backend_name>:<backend_configuration>": "<backend_name>" is the name
// of a registered backend and "<backend_configuration>" is backend specific.
// An empty name selects the first registered backend.
func NewWithConfig(config string) Backend {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends -- maybe import the reference one with import _ "github.com/tech-ascent/tvm-go/backends/gosim"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if _, isName := registeredConstructors[config]; isName {
		// A bare backend name selects that backend with no configuration.
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}
