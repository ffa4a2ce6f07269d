// Package function provides value, arithmetic and expression node types.
package function

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/nodetree/pkg/graph"
	"github.com/chazu/nodetree/pkg/script"
	"github.com/chazu/nodetree/pkg/types"
)

// Name is the registry name used in configuration.
const Name = "function"

const (
	colorValue = "#4a7ab0"
	colorMath  = "#5a8f4e"
	colorExpr  = "#8f6b4e"
)

var ErrDivideByZero = errors.New("function: division by zero")

// New returns the function node registry. Expression nodes evaluate their
// source with ev; a nil ev gets a default evaluator.
func New(ev *script.Evaluator) *graph.Registry {
	if ev == nil {
		ev = script.New()
	}
	r := graph.NewRegistry(Name)

	r.MustRegister(valueNode[float64]("value_float", "Float", 0.0))
	r.MustRegister(valueNode[int]("value_int", "Integer", 0))
	r.MustRegister(valueNode[bool]("value_bool", "Boolean", false))
	r.MustRegister(valueNode[string]("value_string", "String", ""))

	r.MustRegister(binary("math_add", "Add", 0, func(a, b float64) (float64, error) {
		return a + b, nil
	}))
	r.MustRegister(binary("math_subtract", "Subtract", 0, func(a, b float64) (float64, error) {
		return a - b, nil
	}))
	r.MustRegister(binary("math_multiply", "Multiply", 1, func(a, b float64) (float64, error) {
		return a * b, nil
	}))
	r.MustRegister(binary("math_divide", "Divide", 1, func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a / b, nil
	}))

	r.MustRegister(&graph.NodeTypeInfo{
		IDName: "math_sum",
		UIName: "Sum",
		Color:  colorMath,
		Declare: func(b *graph.DeclarationBuilder) {
			b.InputGroup("Values").Type(types.Of[float64](b.Types()))
			graph.AddOutput[float64](b, "Result")
		},
		Execute: func(p *graph.ExeParams) error {
			vs, err := graph.GetInputGroup[float64](p, "Values")
			if err != nil {
				return err
			}
			total := 0.0
			for _, v := range vs {
				total += v
			}
			return p.SetOutput("Result", total)
		},
	})

	r.MustRegister(&graph.NodeTypeInfo{
		IDName: "math_clamp",
		UIName: "Clamp",
		Color:  colorMath,
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddInput[float64](b, "Value").Default(0.0)
			graph.AddInput[float64](b, "Min").Default(0.0)
			graph.AddInput[float64](b, "Max").Default(1.0)
			graph.AddOutput[float64](b, "Result")
		},
		Execute: func(p *graph.ExeParams) error {
			v, err := graph.GetInput[float64](p, "Value")
			if err != nil {
				return err
			}
			lo, err := graph.GetInput[float64](p, "Min")
			if err != nil {
				return err
			}
			hi, err := graph.GetInput[float64](p, "Max")
			if err != nil {
				return err
			}
			if lo > hi {
				return fmt.Errorf("function: clamp min %v exceeds max %v", lo, hi)
			}
			return p.SetOutput("Result", min(max(v, lo), hi))
		},
	})

	r.MustRegister(expressionNode(ev))
	return r
}

// valueNode passes a literal through: the editor sets the input and
// downstream nodes read the output.
func valueNode[T any](id, ui string, def T) *graph.NodeTypeInfo {
	return &graph.NodeTypeInfo{
		IDName: id,
		UIName: ui,
		Color:  colorValue,
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddInput[T](b, "Value").Default(def)
			graph.AddOutput[T](b, "Value")
		},
		Execute: func(p *graph.ExeParams) error {
			v, err := graph.GetInput[T](p, "Value")
			if err != nil {
				return err
			}
			return p.SetOutput("Value", v)
		},
	}
}

func binary(id, ui string, defB float64, op func(a, b float64) (float64, error)) *graph.NodeTypeInfo {
	return &graph.NodeTypeInfo{
		IDName: id,
		UIName: ui,
		Color:  colorMath,
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddInput[float64](b, "A").Default(0.0)
			graph.AddInput[float64](b, "B").Default(defB)
			graph.AddOutput[float64](b, "Result")
		},
		Execute: func(p *graph.ExeParams) error {
			a, err := graph.GetInput[float64](p, "A")
			if err != nil {
				return err
			}
			b, err := graph.GetInput[float64](p, "B")
			if err != nil {
				return err
			}
			res, err := op(a, b)
			if err != nil {
				return err
			}
			return p.SetOutput("Result", res)
		},
	}
}

// Expression nodes bind their numeric inputs to these names.
var expressionVars = []string{"a", "b", "c"}

func expressionNode(ev *script.Evaluator) *graph.NodeTypeInfo {
	return &graph.NodeTypeInfo{
		IDName: "expression",
		UIName: "Expression",
		Color:  colorExpr,
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddInput[string](b, "Expression").Default("(+ a b)")
			for _, v := range expressionVars {
				graph.AddInput[float64](b, v).Default(0.0)
			}
			graph.AddOutput[float64](b, "Result")
		},
		Execute: func(p *graph.ExeParams) error {
			src, err := graph.GetInput[string](p, "Expression")
			if err != nil {
				return err
			}
			bindings := make(map[string]any, len(expressionVars))
			for _, v := range expressionVars {
				f, err := graph.GetInput[float64](p, v)
				if err != nil {
					return err
				}
				bindings[v] = f
			}

			res, evalErrs, err := ev.Eval(src, bindings)
			if err != nil {
				return err
			}
			if len(evalErrs) > 0 {
				msgs := make([]string, len(evalErrs))
				for i, e := range evalErrs {
					msgs[i] = e.Error()
				}
				return fmt.Errorf("expression: %s", strings.Join(msgs, "; "))
			}
			switch v := res.(type) {
			case float64:
				return p.SetOutput("Result", v)
			case int64:
				return p.SetOutput("Result", float64(v))
			}
			return fmt.Errorf("expression: result %v is %T, not a number", res, res)
		},
	}
}
