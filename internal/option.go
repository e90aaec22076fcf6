package internal

import (
	"io"

	"github.com/starford/inkbuild/internal/compiler"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config   *Config
	compiler compiler.Compiler
	logOut   io.Writer
	out      io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithCompiler replaces the inklecate adapter.
func WithCompiler(c compiler.Compiler) Option {
	return func(a *application) {
		a.compiler = c
	}
}

// WithLogOutput redirects the JSON log stream (stdout by default).
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}

// WithOutput sets where command results are printed (stdout by default).
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}
