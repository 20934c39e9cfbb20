package comp

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/lutra/bytecode"
	"github.com/chazu/lutra/lisp"
)

var log = commonlog.GetLogger("lutra.comp")

// One compilation at a time; the backend context and the stack model are
// not sharable, and the payoff of parallel compiles does not justify
// per-unit locking of the runtime tables.
var compileMu sync.Mutex

const mangleMax = 100

// mangle derives the backend symbol for a lisp-level name. Lisp names are
// nearly free-form; the backend wants identifier-shaped ones.
func mangle(name string) string {
	s := strings.NewReplacer("-", "_", "+", "_").Replace(name)
	if len(s) > mangleMax {
		s = s[:mangleMax]
	}
	return "native_" + s
}

// NativeCompile translates fn into native code and installs the result
// under name, returning the installed subr. The function becomes
// reachable through ordinary dispatch, including from its own recursive
// call sites, only after compilation fully succeeds.
func NativeCompile(env *lisp.Env, name string, fn *bytecode.Function, opts Config) (*lisp.Subr, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	compileMu.Lock()
	defer compileMu.Unlock()

	log.Debugf("compiling %s (speed %d)", name, opts.Speed)
	c, err := newCompiler(env, name, fn, opts)
	if err != nil {
		log.Errorf("compiling %s: %s", name, err.Error())
		return nil, err
	}
	defer c.ctx.Release()
	if err := c.compile(); err != nil {
		log.Errorf("compiling %s: %s", name, err.Error())
		return nil, err
	}

	res, err := c.ctx.Compile(env.Resolve)
	if err != nil {
		log.Errorf("compiling %s: %s", name, err.Error())
		return nil, fmt.Errorf("%w: %s: %v", ErrBackend, name, err)
	}
	if opts.DumpIR || opts.Debug {
		if err := c.ctx.DumpToFile(opts.dumpPath()); err != nil {
			log.Errorf("dump %s: %s", opts.dumpPath(), err.Error())
		}
	}
	entry, err := res.Code(mangle(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBackend, name, err)
	}

	spec := fn.ArgSpec
	subr := env.RegisterNative(name, spec.MinArgs, spec.MaxArgs, func(args []lisp.Value) lisp.Value {
		words := make([]uint64, len(args))
		for i, v := range args {
			words[i] = v.Word()
		}
		return lisp.FromWord(entry(words))
	})
	log.Infof("compiled %s as %s", name, mangle(name))
	return subr, nil
}
