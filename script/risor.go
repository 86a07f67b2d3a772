package script

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/modules/all"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
)

type RisorScript struct {
	engine *RisorEngine
	code   *compiler.Code
}

func (s *RisorScript) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	combinedGlobals := make(map[string]any)
	for name, value := range s.engine.globals {
		combinedGlobals[name] = value
	}
	for name, value := range globals {
		combinedGlobals[name] = value
	}
	value, err := risor.EvalCode(ctx, s.code, risor.WithGlobals(combinedGlobals))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate risor script: %w", err)
	}
	return &RisorValue{obj: value}, nil
}

// RisorEngine compiles rule and template expressions. Compiled scripts are
// reusable across evaluations with different globals, so validation rules are
// compiled once at agent construction and evaluated per document.
type RisorEngine struct {
	globals map[string]any
}

func NewRisorEngine(globals map[string]any) *RisorEngine {
	return &RisorEngine{globals: globals}
}

func (e *RisorEngine) Compile(ctx context.Context, code string) (Script, error) {
	ast, err := parser.Parse(ctx, code)
	if err != nil {
		return nil, err
	}

	var globalNames []string
	for name := range e.globals {
		globalNames = append(globalNames, name)
	}
	sort.Strings(globalNames)

	compiledCode, err := compiler.Compile(ast, compiler.WithGlobalNames(globalNames))
	if err != nil {
		return nil, err
	}
	return &RisorScript{engine: e, code: compiledCode}, nil
}

type RisorValue struct {
	obj object.Object
}

func (value *RisorValue) Value() any {
	return ToGo(value.obj)
}

func (value *RisorValue) IsTruthy() bool {
	switch obj := value.obj.(type) {
	case *object.Bool:
		return obj.Value()
	case *object.Int:
		return obj.Value() != 0
	case *object.Float:
		return obj.Value() != 0.0
	case *object.List:
		return len(obj.Value()) > 0
	case *object.Map:
		return len(obj.Value()) > 0
	case *object.String:
		val := obj.Value()
		return val != "" && strings.ToLower(val) != "false"
	default:
		// Use Risor's built-in truthiness evaluation
		return obj.IsTruthy()
	}
}

func (value *RisorValue) String() string {
	switch v := value.obj.(type) {
	case *object.String:
		return v.Value()
	case *object.Int:
		return fmt.Sprintf("%d", v.Value())
	case *object.Float:
		return fmt.Sprintf("%g", v.Value())
	case *object.Bool:
		return fmt.Sprintf("%t", v.Value())
	case *object.Time:
		return v.Value().Format(time.RFC3339)
	case *object.NilType:
		return ""
	case *object.List:
		var items []string
		for _, item := range v.Value() {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return strings.Join(items, "\n")
	case *object.Map:
		var items []string
		for k, v := range v.Value() {
			items = append(items, fmt.Sprintf("%s: %v", k, v))
		}
		return strings.Join(items, "\n")
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", value.obj)
	}
}

// DefaultGlobals returns the globals available to every rule and template:
// the Risor builtins plus empty placeholders for the per-evaluation document
// context.
func DefaultGlobals() map[string]any {
	globals := map[string]any{}
	for name, value := range all.Builtins() {
		globals[name] = value
	}
	globals["fields"] = object.NewMap(map[string]object.Object{})
	globals["document"] = object.NewMap(map[string]object.Object{})
	return globals
}
