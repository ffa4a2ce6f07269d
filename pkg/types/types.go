// Package types implements the runtime type registry behind socket values.
//
// A Registry maps Go types to SocketType identifiers and back to the names
// used in serialized trees. Registries are explicit values: a node system
// constructs one at startup and every node definition module registers its
// types into it from its own registration routine.
package types

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Names of the built-in types every registry starts with.
const (
	AnyName    = "any"
	IntName    = "int"
	FloatName  = "float"
	BoolName   = "bool"
	StringName = "string"
)

// SocketType identifies the type of a socket at runtime. The zero value is
// the invalid type.
type SocketType struct {
	hash uint64
	name string
}

// Invalid is the null socket type returned by failed lookups.
var Invalid SocketType

// Any is the wildcard type used by generic and group sockets.
var Any = SocketType{hash: xxhash.Sum64String(AnyName), name: AnyName}

// IsValid reports whether t was resolved through a registry.
func (t SocketType) IsValid() bool { return t.hash != 0 }

// IsAny reports whether t is the wildcard type.
func (t SocketType) IsAny() bool { return t == Any }

// Hash returns the identity hash of the type.
func (t SocketType) Hash() uint64 { return t.hash }

// Name returns the serialized name of the type.
func (t SocketType) Name() string { return t.name }

func (t SocketType) String() string {
	if !t.IsValid() {
		return "<invalid>"
	}
	return t.name
}

// Info is the runtime metadata stored for a registered type.
type Info struct {
	Type   SocketType
	GoType reflect.Type

	// Scalar types carry their value through serialization.
	Scalar bool
	// Numeric types honour min/max bounds.
	Numeric bool

	zero func() any
}

// Registry maps Go types to socket types. It is safe for concurrent use,
// although registration normally happens once during node system init.
type Registry struct {
	mu     sync.RWMutex
	byGo   map[reflect.Type]*Info
	byName map[string]*Info
	byHash map[uint64]*Info
}

// NewRegistry returns a registry pre-populated with the built-in types.
func NewRegistry() *Registry {
	r := &Registry{
		byGo:   make(map[reflect.Type]*Info),
		byName: make(map[string]*Info),
		byHash: make(map[uint64]*Info),
	}
	anyInfo := &Info{Type: Any, GoType: goTypeOf[any](), zero: func() any { return nil }}
	r.byGo[anyInfo.GoType] = anyInfo
	r.byName[AnyName] = anyInfo
	r.byHash[Any.hash] = anyInfo

	registerScalar[int](r, IntName, true)
	registerScalar[float64](r, FloatName, true)
	registerScalar[bool](r, BoolName, false)
	registerScalar[string](r, StringName, false)
	return r
}

func goTypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func typeIdentity(rt reflect.Type) string {
	if rt.PkgPath() == "" {
		return rt.String()
	}
	return rt.PkgPath() + "." + rt.Name()
}

// Register associates T with a socket type called name. Registering the
// same T again is a no-op that returns the existing type. Reusing a name
// for a different Go type panics.
func Register[T any](r *Registry, name string) SocketType {
	return register[T](r, name, false, false)
}

func registerScalar[T any](r *Registry, name string, numeric bool) SocketType {
	return register[T](r, name, true, numeric)
}

func register[T any](r *Registry, name string, scalar, numeric bool) SocketType {
	rt := goTypeOf[T]()
	if name == "" {
		name = rt.String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.byGo[rt]; ok {
		return info.Type
	}
	if other, ok := r.byName[name]; ok {
		panic(fmt.Sprintf("types: name %q already registered for %v", name, other.GoType))
	}

	st := SocketType{hash: xxhash.Sum64String(typeIdentity(rt)), name: name}
	if _, ok := r.byHash[st.hash]; ok {
		panic(fmt.Sprintf("types: hash collision registering %q", name))
	}
	info := &Info{
		Type:    st,
		GoType:  rt,
		Scalar:  scalar,
		Numeric: numeric,
		zero: func() any {
			var zero T
			return zero
		},
	}
	r.byGo[rt] = info
	r.byName[name] = info
	r.byHash[st.hash] = info
	return st
}

// Of returns the socket type of T, registering it under its Go type string
// on first use.
func Of[T any](r *Registry) SocketType {
	rt := goTypeOf[T]()
	r.mu.RLock()
	info, ok := r.byGo[rt]
	r.mu.RUnlock()
	if ok {
		return info.Type
	}
	return Register[T](r, "")
}

// Lookup resolves a serialized type name. It returns Invalid and false when
// the name was never registered.
func (r *Registry) Lookup(name string) (SocketType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byName[name]
	if !ok {
		return Invalid, false
	}
	return info.Type, true
}

// NameOf returns the serialized name of t, or "" for unknown types.
func (r *Registry) NameOf(t SocketType) string {
	if info, ok := r.Info(t); ok {
		return info.Type.name
	}
	return ""
}

// Info returns the registered metadata for t.
func (r *Registry) Info(t SocketType) (*Info, bool) {
	if !t.IsValid() {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byHash[t.hash]
	return info, ok
}

// Names returns all registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Zero returns the default value for t. Unknown types yield the invalid
// Value.
func (r *Registry) Zero(t SocketType) Value {
	info, ok := r.Info(t)
	if !ok {
		return Value{}
	}
	return Value{typ: t, data: info.zero()}
}

// Wrap boxes v as a value of type t, checking that the dynamic type of v is
// assignable to the Go type registered for t. Values wrapped as Any keep
// their own registered type when known.
func (r *Registry) Wrap(t SocketType, v any) (Value, error) {
	if v, ok := v.(Value); ok {
		if t.IsAny() || v.typ == t {
			return v, nil
		}
		return Value{}, fmt.Errorf("types: cannot use %s value as %s", v.typ, t)
	}
	info, ok := r.Info(t)
	if !ok {
		return Value{}, fmt.Errorf("types: unknown socket type %s", t)
	}
	if t.IsAny() {
		if v == nil {
			return Value{typ: Any}, nil
		}
		rt := reflect.TypeOf(v)
		r.mu.RLock()
		own, known := r.byGo[rt]
		r.mu.RUnlock()
		if known {
			return Value{typ: own.Type, data: v}, nil
		}
		return Value{typ: Any, data: v}, nil
	}
	if v == nil {
		if k := info.GoType.Kind(); k == reflect.Interface || k == reflect.Pointer || k == reflect.Slice || k == reflect.Map {
			return Value{typ: t, data: info.zero()}, nil
		}
		return Value{}, fmt.Errorf("types: nil is not a valid %s", t)
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(info.GoType) {
		return Value{typ: t, data: v}, nil
	}
	if info.Numeric && isNumberKind(rv.Kind()) {
		return Value{typ: t, data: rv.Convert(info.GoType).Interface()}, nil
	}
	return Value{}, fmt.Errorf("types: cannot use %T as %s", v, t)
}

// Encode serializes a scalar value. ok is false for types that are not
// carried through serialization (handles, lists).
func (r *Registry) Encode(v Value) (raw json.RawMessage, ok bool, err error) {
	info, found := r.Info(v.typ)
	if !found || !info.Scalar {
		return nil, false, nil
	}
	raw, err = json.Marshal(v.data)
	if err != nil {
		return nil, false, fmt.Errorf("types: encoding %s value: %w", v.typ, err)
	}
	return raw, true, nil
}

// Decode restores a scalar value of type t from its JSON form.
func (r *Registry) Decode(t SocketType, raw json.RawMessage) (Value, error) {
	info, ok := r.Info(t)
	if !ok {
		return Value{}, fmt.Errorf("types: unknown socket type %s", t)
	}
	if !info.Scalar {
		return Value{}, fmt.Errorf("types: %s values are not serializable", t)
	}
	ptr := reflect.New(info.GoType)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return Value{}, fmt.Errorf("types: decoding %s value: %w", t, err)
	}
	return Value{typ: t, data: ptr.Elem().Interface()}, nil
}
