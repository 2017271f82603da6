package scriptbind

import (
	"context"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// Option configures a Runtime.
type Option func(*config)

type config struct {
	logger        zerolog.Logger
	skipStdlib    bool
	callStackSize int
	registrySize  int
	ctx           context.Context
	globals       map[string]any
	modules       []func(*lua.LState) error
}

func collectOptions(opts ...Option) *config {
	cfg := &config{
		logger:  zerolog.Nop(),
		globals: map[string]any{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// WithLogger sets the logger of the runtime and of every binding running in
// it.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithoutStdlib creates the VM without the standard script libraries.
func WithoutStdlib() Option {
	return func(cfg *config) {
		cfg.skipStdlib = true
	}
}

// WithCallStackSize sets the maximum depth of nested script calls.
func WithCallStackSize(size int) Option {
	return func(cfg *config) {
		cfg.callStackSize = size
	}
}

// WithRegistrySize sets the initial size of the VM value stack.
func WithRegistrySize(size int) Option {
	return func(cfg *config) {
		cfg.registrySize = size
	}
}

// WithContext sets the context handed to bound Go functions that take one.
// Cancelling it aborts running scripts.
func WithContext(ctx context.Context) Option {
	return func(cfg *config) {
		cfg.ctx = ctx
	}
}

// WithGlobals provides global variables to scripts. This option is additive,
// so multiple WithGlobals options may be supplied. If the same key is
// supplied multiple times, the last supplied value is used.
func WithGlobals(globals map[string]any) Option {
	return func(cfg *config) {
		for k, v := range globals {
			cfg.globals[k] = v
		}
	}
}

// WithGlobal provides a single named global variable to scripts.
func WithGlobal(name string, value any) Option {
	return func(cfg *config) {
		cfg.globals[name] = value
	}
}

// WithModule runs bind against the VM when the runtime is created, typically
// to declare classes such as geom.Bind.
func WithModule(bind func(*lua.LState) error) Option {
	return func(cfg *config) {
		cfg.modules = append(cfg.modules, bind)
	}
}
