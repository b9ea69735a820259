package workflow

import (
	"errors"
	"fmt"

	"github.com/Shopify/go-lua"
)

// GuardEnv evaluates Lua guard expressions against a record. States are
// pooled for reuse; the sandbox strips the globals that reach the
// filesystem or process environment.
type GuardEnv struct {
	statePool chan *lua.State
}

const guardStatePoolSize = 8

// ErrGuardEval is returned when a guard expression fails to load or run.
var ErrGuardEval = errors.New("guard evaluation error")

var guardExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// NewGuardEnv creates a pooled Lua guard environment.
func NewGuardEnv() *GuardEnv {
	return &GuardEnv{
		statePool: make(chan *lua.State, guardStatePoolSize),
	}
}

// Eval runs a guard expression with the record exposed as the global
// `record` table and returns its boolean result. Any non-true result,
// including nil, counts as rejection.
func (g *GuardEnv) Eval(expr string, record map[string]any) (bool, error) {
	l := g.getState()
	defer g.returnState(l)

	pushRecord(l, record)
	l.SetGlobal("record")

	if err := lua.DoString(l, "return ("+expr+")"); err != nil {
		return false, fmt.Errorf("%w: %w", ErrGuardEval, err)
	}

	result := l.ToBoolean(-1)
	l.Pop(1)
	return result, nil
}

func (g *GuardEnv) getState() *lua.State {
	select {
	case l := <-g.statePool:
		return l
	default:
		return g.newState()
	}
}

func (g *GuardEnv) returnState(l *lua.State) {
	l.SetTop(0)
	l.PushNil()
	l.SetGlobal("record")

	select {
	case g.statePool <- l:
	default:
	}
}

func (g *GuardEnv) newState() *lua.State {
	l := lua.NewState()
	lua.OpenLibraries(l)
	for _, name := range guardExclude {
		l.PushNil()
		l.SetGlobal(name)
	}
	return l
}

func pushRecord(l *lua.State, record map[string]any) {
	l.CreateTable(0, len(record))
	for k, v := range record {
		l.PushString(k)
		pushValue(l, v)
		l.SetTable(-3)
	}
}

func pushValue(l *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		l.PushNil()
	case string:
		l.PushString(v)
	case bool:
		l.PushBoolean(v)
	case int:
		l.PushInteger(v)
	case int64:
		l.PushInteger(int(v))
	case float64:
		l.PushNumber(v)
	case []any:
		l.CreateTable(len(v), 0)
		for i, item := range v {
			l.PushInteger(i + 1)
			pushValue(l, item)
			l.SetTable(-3)
		}
	case map[string]any:
		pushRecord(l, v)
	default:
		l.PushString(fmt.Sprintf("%v", v))
	}
}
