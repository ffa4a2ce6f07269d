// Package kernel defines the geometry kernel behind the geometry nodes.
// Solids travel between node sockets as opaque handles; only the kernel
// that created a solid can operate on it.
package kernel

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDimension = errors.New("kernel: invalid dimension")
	ErrForeignSolid     = errors.New("kernel: solid was not created by this kernel")
	ErrNoSolids         = errors.New("kernel: no solids")
)

// Solid is an opaque handle to a kernel solid.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// Kernel builds and combines solids. Operations fail rather than panic on
// bad dimensions or foreign handles, since both come straight from user
// edited node inputs.
type Kernel interface {
	// Primitives
	Box(x, y, z float64) (Solid, error)
	Cylinder(height, radius float64) (Solid, error)
	Sphere(radius float64) (Solid, error)

	// Boolean operations
	Union(a, b Solid) (Solid, error)
	Difference(a, b Solid) (Solid, error)
	Intersection(a, b Solid) (Solid, error)

	// Transforms
	Translate(s Solid, x, y, z float64) (Solid, error)
	Rotate(s Solid, x, y, z float64) (Solid, error) // Euler angles in degrees

	// ToMesh tessellates s on a grid of cells along its longest axis. A
	// non-positive cells uses the kernel default.
	ToMesh(s Solid, cells int) (*Mesh, error)
}

// Fold combines solids left to right with op, skipping nil handles.
func Fold(solids []Solid, op func(a, b Solid) (Solid, error)) (Solid, error) {
	var acc Solid
	for i, s := range solids {
		if s == nil {
			continue
		}
		if acc == nil {
			acc = s
			continue
		}
		next, err := op(acc, s)
		if err != nil {
			return nil, fmt.Errorf("kernel: combining solid %d: %w", i, err)
		}
		acc = next
	}
	if acc == nil {
		return nil, ErrNoSolids
	}
	return acc, nil
}

// CheckPositive returns ErrInvalidDimension unless v > 0.
func CheckPositive(name string, v float64) error {
	if !(v > 0) {
		return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidDimension, name, v)
	}
	return nil
}
