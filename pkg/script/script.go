// Package script evaluates small Lisp expressions for expression nodes. It
// wraps zygomys in a sandboxed environment with a hard timeout.
package script

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	zygo "github.com/glycerine/zygomys/zygo"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultTimeout is the hard limit for a single evaluation.
const DefaultTimeout = 5 * time.Second

// MaxAbandoned caps the timed-out evaluations that may still be running.
// zygomys cannot interrupt a running program, so a timed-out evaluation
// keeps its goroutine and sandbox until the program ends on its own.
const MaxAbandoned = 4

// ErrSaturated is returned while MaxAbandoned timed-out evaluations are
// still running.
var ErrSaturated = errors.New("script: too many timed-out evaluations still running")

// EvalError is a parse or runtime error in user code.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Evaluator runs expressions. It is safe for concurrent use; every call
// gets a fresh sandbox so evaluations cannot see each other's definitions.
type Evaluator struct {
	mu         sync.Mutex
	generation uint64
	abandoned  map[uint64]bool // timed-out generations still running

	timeout time.Duration
	sources *cache.Cache
	logger  *zap.Logger
	run     func(program string) (any, []EvalError, error)
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the evaluator's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// New returns an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		abandoned: make(map[uint64]bool),
		timeout:   DefaultTimeout,
		sources:   cache.New(10*time.Minute, 20*time.Minute),
		logger:    zap.NewNop(),
	}
	e.run = e.evaluate
	for _, o := range opts {
		o(e)
	}
	return e
}

// Timeout returns the configured evaluation limit.
func (e *Evaluator) Timeout() time.Duration { return e.timeout }

// Abandoned returns the number of timed-out evaluations still running.
func (e *Evaluator) Abandoned() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.abandoned)
}

var bindingName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Eval evaluates source with the given variable bindings and returns the
// value of the last expression as float64, int64, string or bool.
//
// Return semantics:
//   - On success: returns value + nil errors + nil error
//   - On parse/eval failure: returns nil + eval errors + nil error
//   - On fatal failure (timeout, panic, bad binding): returns nil + nil + error
//
// A timed-out evaluation cannot be interrupted and keeps running in the
// background. Once MaxAbandoned of them are outstanding Eval fails fast
// with ErrSaturated until one finishes.
func (e *Evaluator) Eval(source string, bindings map[string]any) (any, []EvalError, error) {
	prelude, err := renderBindings(bindings)
	if err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	if len(e.abandoned) >= MaxAbandoned {
		e.mu.Unlock()
		return nil, nil, ErrSaturated
	}
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	ch := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("script: panic during evaluation: %v", r)}
			}
			e.mu.Lock()
			delete(e.abandoned, gen)
			e.mu.Unlock()
		}()
		v, evalErrs, err := e.run(prelude + e.prepare(source))
		ch <- evalResult{value: v, errors: evalErrs, err: err}
	}()

	v, evalErrs, err := waitWithTimeout(ch, e.timeout)
	if errors.Is(err, errTimedOut) {
		e.mu.Lock()
		select {
		case res := <-ch:
			// Finished while the timer fired.
			v, evalErrs, err = res.value, res.errors, res.err
		default:
			e.abandoned[gen] = true
		}
		e.mu.Unlock()
	}
	if err != nil {
		e.logger.Warn("expression evaluation failed", zap.Uint64("generation", gen), zap.Error(err))
	}
	return v, evalErrs, err
}

// prepare returns the normalized form of source, memoized across calls.
func (e *Evaluator) prepare(source string) string {
	if v, ok := e.sources.Get(source); ok {
		return v.(string)
	}
	n := normalize(source)
	e.sources.Set(source, n, cache.DefaultExpiration)
	return n
}

// renderBindings turns bindings into def forms preceding the user source,
// in name order so the generated program is deterministic.
func renderBindings(bindings map[string]any) (string, error) {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		if !bindingName.MatchString(name) {
			return "", fmt.Errorf("script: invalid binding name %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		lit, err := literal(bindings[name])
		if err != nil {
			return "", fmt.Errorf("script: binding %q: %w", name, err)
		}
		fmt.Fprintf(&sb, "(def %s %s)\n", name, lit)
	}
	return sb.String(), nil
}

func literal(v any) (string, error) {
	switch x := v.(type) {
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if !strings.ContainsAny(s, ".") {
			s += ".0"
		}
		return s, nil
	case float32:
		return literal(float64(x))
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case bool:
		return strconv.FormatBool(x), nil
	case string:
		return strconv.Quote(x), nil
	}
	return "", fmt.Errorf("unsupported value %T", v)
}

// evaluate runs program in a fresh sandbox.
func (e *Evaluator) evaluate(program string) (any, []EvalError, error) {
	if strings.TrimSpace(program) == "" {
		return nil, []EvalError{{Message: "empty expression"}}, nil
	}

	// Sandbox mode prevents user code from accessing the filesystem or syscalls.
	env := zygo.NewZlispSandbox()
	defer env.Stop()

	if err := env.LoadString(program); err != nil {
		return nil, parseZygomysError(err), nil
	}
	res, err := env.Run()
	if err != nil {
		return nil, parseZygomysError(err), nil
	}
	v, err := fromSexp(res)
	if err != nil {
		return nil, []EvalError{{Message: err.Error()}}, nil
	}
	return v, nil, nil
}

func fromSexp(s zygo.Sexp) (any, error) {
	switch v := s.(type) {
	case *zygo.SexpFloat:
		return v.Val, nil
	case *zygo.SexpInt:
		return v.Val, nil
	case *zygo.SexpStr:
		return v.S, nil
	case *zygo.SexpBool:
		return v.Val, nil
	}
	if s == nil || s == zygo.SexpNull {
		return nil, fmt.Errorf("expression produced no value")
	}
	return nil, fmt.Errorf("expression produced unsupported value %s", s.SexpString(nil))
}

// linePattern matches zygomys error messages that include "Error on line N: ..."
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches simpler "line N: ..." patterns.
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into EvalError values,
// extracting line information when the message carries it.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()
	for _, p := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := p.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
		}
	}
	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
