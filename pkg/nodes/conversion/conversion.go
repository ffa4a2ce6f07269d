// Package conversion provides the invisible node types a tree splices into
// links between sockets of different scalar types.
package conversion

import (
	"fmt"
	"strconv"

	"github.com/chazu/nodetree/pkg/graph"
	"github.com/chazu/nodetree/pkg/types"
)

// Name is the registry name used in configuration.
const Name = "conversion"

// New returns the conversion node registry. Float to int conversion
// truncates toward zero.
func New(tr *types.Registry) (*graph.Registry, error) {
	r := graph.NewRegistry(Name)
	for _, c := range []struct {
		info *graph.NodeTypeInfo
		from types.SocketType
		to   types.SocketType
	}{
		{convert("convert_int_to_float", func(v int) (float64, error) { return float64(v), nil }), types.Of[int](tr), types.Of[float64](tr)},
		{convert("convert_float_to_int", func(v float64) (int, error) { return int(v), nil }), types.Of[float64](tr), types.Of[int](tr)},
		{convert("convert_bool_to_float", func(v bool) (float64, error) {
			if v {
				return 1, nil
			}
			return 0, nil
		}), types.Of[bool](tr), types.Of[float64](tr)},
		{convert("convert_float_to_string", func(v float64) (string, error) {
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		}), types.Of[float64](tr), types.Of[string](tr)},
		{convert("convert_int_to_string", func(v int) (string, error) { return strconv.Itoa(v), nil }), types.Of[int](tr), types.Of[string](tr)},
	} {
		if err := r.RegisterConversion(c.info, c.from, c.to); err != nil {
			return nil, fmt.Errorf("conversion: %w", err)
		}
	}
	return r, nil
}

func convert[From, To any](id string, fn func(From) (To, error)) *graph.NodeTypeInfo {
	return &graph.NodeTypeInfo{
		IDName: id,
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddInput[From](b, "In")
			graph.AddOutput[To](b, "Out")
		},
		Execute: func(p *graph.ExeParams) error {
			v, err := graph.GetInput[From](p, "In")
			if err != nil {
				return err
			}
			out, err := fn(v)
			if err != nil {
				return err
			}
			return p.SetOutput("Out", out)
		},
	}
}
