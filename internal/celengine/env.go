package celengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/agentgateway/agentgateway-core/internal/logging"
)

var logger = logging.New("celengine")

// Env wraps a cel.Env plus a compile cache keyed by expression string, so
// repeated evaluation of the same policy condition across requests never
// re-parses or re-checks the expression.
type Env struct {
	celEnv *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

var (
	schemaOnce sync.Once
	schemaEnv  *Env
	schemaErr  error
)

// MustSchemaEnv returns the process-wide CEL environment declaring the schema
// (request/response/source/jwt/llm/mcp/apiKey/backend). Building the
// environment can only fail on a programming error in the fixed declaration
// list, so a failure here is fatal rather than a per-request condition.
func MustSchemaEnv() *Env {
	schemaOnce.Do(func() {
		e, err := cel.NewEnv(newSchemaEnvOptions()...)
		if err != nil {
			schemaErr = err
			return
		}
		schemaEnv = &Env{celEnv: e, cache: map[string]cel.Program{}}
	})
	if schemaErr != nil {
		logger.Error("failed to build CEL schema environment", "error", schemaErr)
		panic(fmt.Sprintf("celengine: invalid schema declarations: %v", schemaErr))
	}
	return schemaEnv
}

// Compile parses and type-checks expr, caching the resulting program.
// Called both at configuration-validation time (so malformed CEL never
// reaches runtime traffic) and lazily on first evaluation.
func (e *Env) Compile(expr string) (cel.Program, error) {
	e.mu.RLock()
	if p, ok := e.cache[expr]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	ast, iss := e.celEnv.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, iss.Err())
	}
	prog, err := e.celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}

	e.mu.Lock()
	e.cache[expr] = prog
	e.mu.Unlock()
	return prog, nil
}

// FailMode controls whether a timeout or runtime error is treated as a deny
// (authorization) or an allow (telemetry transforms): on timeout the
// expression fails closed for authorization, fails open for telemetry
// transforms.
type FailMode int

const (
	FailClosed FailMode = iota
	FailOpen
)

// DefaultTimeout bounds a single evaluation.
const DefaultTimeout = 50 * time.Millisecond

// Result is the outcome of evaluating an expression.
type Result struct {
	Value   any
	Timeout bool
	Err     error
}

// Bool interprets the result as a boolean guard, honoring FailMode when
// the evaluation timed out or errored.
func (r Result) Bool(mode FailMode) bool {
	if r.Timeout || r.Err != nil {
		return mode == FailOpen
	}
	b, ok := r.Value.(bool)
	if !ok {
		return mode == FailOpen
	}
	return b
}

// Eval compiles (or reuses the cached compilation of) expr and evaluates
// it against vars, bounded by DefaultTimeout. Evaluation runs on its own
// goroutine; the timeout is enforced by racing completion against a timer,
// since cel-go programs do not natively support context cancellation
// mid-evaluation.
func (e *Env) Eval(ctx context.Context, expr string, vars Vars) Result {
	prog, err := e.Compile(expr)
	if err != nil {
		return Result{Err: err}
	}

	type out struct {
		val any
		err error
	}
	done := make(chan out, 1)
	go func() {
		val, _, err := prog.Eval(map[string]any(vars))
		if err != nil {
			done <- out{err: err}
			return
		}
		done <- out{val: val.Value()}
	}()

	timer := time.NewTimer(DefaultTimeout)
	defer timer.Stop()
	select {
	case o := <-done:
		if o.err != nil {
			return Result{Err: o.err}
		}
		return Result{Value: o.val}
	case <-timer.C:
		return Result{Timeout: true}
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}
