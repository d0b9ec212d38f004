package object

import (
	"errors"
	"fmt"

	"github.com/corewell/phprt/pkg/heap"
	"github.com/corewell/phprt/pkg/value"
)

// Visibility is a class-member's declared access level.
type Visibility uint8

const (
	Public Visibility = iota
	Protected
	Private
)

// Sentinel errors raised by class definition. pkg/object sits below
// pkg/rterror in the dependency order (SPEC_FULL.md §2), so it cannot
// construct a PHPException itself — pkg/vm wraps these into the typed
// exceptions spec §7 describes (AbstractInstantiation, TypeError).
var (
	ErrAbstractInstantiation = errors.New("object: cannot instantiate an abstract class or interface")
	ErrFinalOverride         = errors.New("object: cannot override a final method")
	ErrAbstractNotOverridden = errors.New("object: abstract method has no concrete override")
	ErrInterfaceGap          = errors.New("object: interface method has no concrete implementation")
	ErrUnknownClass          = errors.New("object: reference to an undefined class")
)

// MethodDecl is the declaration-time description of one method, as the
// evaluator hands it to DefineClass after parsing a class body.
type MethodDecl struct {
	Name       string
	Fn         value.Value // PtrUserFunction or PtrNativeFunction
	Visibility Visibility
	Static     bool
	Abstract   bool
	Final      bool
}

// Method is the resolved, flattened entry stored in a Class's method
// table: declaring class plus the same fields as MethodDecl.
type Method struct {
	Name           string
	DeclaringClass heap.ClassID
	Fn             value.Value
	Visibility     Visibility
	Static         bool
	Abstract       bool
	Final          bool
}

// PropertyDecl is one declared-property default, applied in
// declaration order before __construct runs (spec §4.3).
type PropertyDecl struct {
	Name     string
	Default  value.Value
	Readonly bool
}

// ClassSpec is the input to DefineClass: everything the evaluator
// gathered from a `class` (or `trait`) declaration's syntax.
type ClassSpec struct {
	Name       string
	Parent     heap.ClassID // 0 = none
	Interfaces []heap.ClassID
	Traits     []heap.ClassID
	Abstract   bool
	Final      bool
	Methods    []MethodDecl
	Properties []PropertyDecl
	Constants  map[string]value.Value
}

// Class is a fully resolved class (or trait, or interface) description:
// its flattened method resolution order, its declared property
// defaults, and the root shape new instances start from (spec §4.3,
// §4.4 method resolution order / magic methods / clone semantics).
type Class struct {
	ID          heap.ClassID
	Name        string
	Parent      heap.ClassID
	Interfaces  []heap.ClassID
	IsInterface bool
	IsTrait     bool
	IsAbstract  bool
	IsFinal     bool

	// Methods is the flattened MRO table: own methods, then
	// trait-mixed methods (class wins on a name conflict), then
	// whatever the parent chain contributes, all resolved once at
	// definition time (spec §4.3 "Method resolution order").
	Methods map[string]*Method

	// Properties lists this class's OWN declared defaults, in
	// declaration order; RootShape already reflects the accumulated
	// shape chain (this class's own properties transitioned onto the
	// parent's root shape).
	Properties []PropertyDecl
	RootShape  heap.ShapeID

	// AllProperties is Properties prefixed with every ancestor's own
	// properties, root-first — the order NewInstance applies defaults
	// in (spec §4.3 "__construct runs after property defaults are
	// applied").
	AllProperties []PropertyDecl

	// Constants holds this class's own declared constants; lookup walks
	// the parent chain the same way ResolveConstant does.
	Constants map[string]value.Value

	// readonly is the accumulated (own + inherited) set of property
	// names declared readonly, consulted on every property write (spec
	// §7 "ReadonlyPropertyModification").
	readonly map[string]bool
}

// IsReadonly reports whether name is a readonly property of c.
func (c *Class) IsReadonly(name string) bool { return c.readonly[name] }

// ResolveConstant looks up name in c's own constants, then its parent
// chain.
func (c *Class) ResolveConstant(reg *Registry, name string) (value.Value, bool) {
	for cur := c; cur != nil; cur = reg.ClassByID(cur.Parent) {
		if v, ok := cur.Constants[name]; ok {
			return v, true
		}
	}
	return value.Null, false
}

// Registry owns every defined Class plus the shared ShapeRegistry and
// property inline cache (spec §4.3/§4.4).
type Registry struct {
	shapes  *ShapeRegistry
	cache   *InlineCache
	classes []*Class // index 0 unused; classes[id-1] is class id
	byName  map[string]heap.ClassID
}

// NewRegistry returns an empty class registry with a fresh shape tree
// and inline cache.
func NewRegistry() *Registry {
	return &Registry{
		shapes: NewShapeRegistry(),
		cache:  NewInlineCache(defaultInlineCacheSize),
		byName: make(map[string]heap.ClassID),
	}
}

// Shapes exposes the shared shape registry (pkg/vm's property-access
// fast path consults it directly on an inline-cache miss).
func (r *Registry) Shapes() *ShapeRegistry { return r.shapes }

// Cache exposes the shared inline cache.
func (r *Registry) Cache() *InlineCache { return r.cache }

// ClassByID dereferences a ClassID, or nil if unknown.
func (r *Registry) ClassByID(id heap.ClassID) *Class {
	if id == 0 || int(id) > len(r.classes) {
		return nil
	}
	return r.classes[id-1]
}

// ClassByName looks up a class/interface/trait by its declared name.
func (r *Registry) ClassByName(name string) (*Class, bool) {
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.ClassByID(id), true
}

// DefineInterface registers an interface: a method table with no
// bodies (every entry is Abstract) and no instance shape.
func (r *Registry) DefineInterface(name string, parents []heap.ClassID, methodNames []string) (heap.ClassID, error) {
	methods := make(map[string]*Method, len(methodNames))
	for _, p := range parents {
		parent := r.ClassByID(p)
		if parent == nil {
			return 0, fmt.Errorf("%w: %q", ErrUnknownClass, name)
		}
		for mname, m := range parent.Methods {
			methods[mname] = m
		}
	}
	for _, mname := range methodNames {
		methods[mname] = &Method{Name: mname, Abstract: true}
	}
	c := &Class{Name: name, Interfaces: parents, IsInterface: true, IsAbstract: true, Methods: methods}
	return r.register(c), nil
}

// DefineTrait registers a trait: a standalone method/property table.
// DefineClass copies the trait's methods into every class that uses it;
// the trait's properties stay on the trait's own Class and are not added
// to the using class's properties or shape. decls' Fn value.Value bodies are shared (the
// user-function box itself is immutable AST); only the Method
// descriptor wrapping it is deep-copied at mix-in time so each
// consuming class gets its own DeclaringClass tag.
func (r *Registry) DefineTrait(name string, decls []MethodDecl, props []PropertyDecl) (heap.ClassID, error) {
	methods := make(map[string]*Method, len(decls))
	for _, d := range decls {
		methods[d.Name] = &Method{Name: d.Name, Fn: d.Fn, Visibility: d.Visibility, Static: d.Static, Abstract: d.Abstract, Final: d.Final}
	}
	c := &Class{Name: name, IsTrait: true, Methods: methods, Properties: props}
	return r.register(c), nil
}

// DefineClass resolves spec into a Class: flattens the method
// resolution order, verifies abstract/final/interface constraints, and
// builds the instance root shape by transitioning the parent's root
// shape through this class's own declared properties (spec §4.3).
func (r *Registry) DefineClass(spec ClassSpec) (heap.ClassID, error) {
	methods := make(map[string]*Method)

	var parent *Class
	rootShape := r.shapes.NewRootShape()
	if spec.Parent != 0 {
		parent = r.ClassByID(spec.Parent)
		if parent == nil {
			return 0, fmt.Errorf("%w: parent of %q", ErrUnknownClass, spec.Name)
		}
		for name, m := range parent.Methods {
			methods[name] = m
		}
		rootShape = parent.RootShape
	}

	// Trait-mixed methods: deep-copied so the DeclaringClass tag is
	// this class, not the trait (spec §4.3 "deep-copied to avoid
	// aliasing the trait's own descriptors").
	for _, tid := range spec.Traits {
		trait := r.ClassByID(tid)
		if trait == nil {
			return 0, fmt.Errorf("%w: trait of %q", ErrUnknownClass, spec.Name)
		}
		for name, m := range trait.Methods {
			cp := *m
			cp.DeclaringClass = 0 // filled in below once the class ID is known
			methods[name] = &cp
		}
	}

	// Own methods win over both trait methods and inherited ones.
	for _, d := range spec.Methods {
		if existing, ok := methods[d.Name]; ok && existing.Final && existing.DeclaringClass != 0 {
			return 0, fmt.Errorf("%w: %q.%s", ErrFinalOverride, spec.Name, d.Name)
		}
		methods[d.Name] = &Method{
			Name: d.Name, Fn: d.Fn, Visibility: d.Visibility,
			Static: d.Static, Abstract: d.Abstract, Final: d.Final,
		}
	}

	if !spec.Abstract {
		for name, m := range methods {
			if m.Abstract {
				return 0, fmt.Errorf("%w: %q.%s", ErrAbstractNotOverridden, spec.Name, name)
			}
		}
		for _, iid := range allInterfaces(r, spec.Interfaces) {
			iface := r.ClassByID(iid)
			if iface == nil {
				continue
			}
			for name := range iface.Methods {
				m, ok := methods[name]
				if !ok || m.Abstract {
					return 0, fmt.Errorf("%w: %q missing %s.%s", ErrInterfaceGap, spec.Name, iface.Name, name)
				}
			}
		}
	}

	for _, p := range spec.Properties {
		rootShape, _ = r.shapes.Transition(rootShape, p.Name)
	}

	var allProps []PropertyDecl
	if parent != nil {
		allProps = append(allProps, parent.AllProperties...)
	}
	allProps = append(allProps, spec.Properties...)

	readonly := make(map[string]bool)
	if parent != nil {
		for name := range parent.readonly {
			readonly[name] = true
		}
	}
	for _, p := range spec.Properties {
		if p.Readonly {
			readonly[p.Name] = true
		}
	}

	c := &Class{
		Name: spec.Name, Parent: spec.Parent, Interfaces: spec.Interfaces,
		IsAbstract: spec.Abstract, IsFinal: spec.Final,
		Methods: methods, Properties: spec.Properties, RootShape: rootShape,
		AllProperties: allProps, Constants: spec.Constants, readonly: readonly,
	}
	id := r.register(c)
	for _, m := range methods {
		if m.DeclaringClass == 0 {
			m.DeclaringClass = id
		}
	}
	return id, nil
}

// allInterfaces flattens direct interfaces plus whatever interfaces
// those interfaces themselves extend (spec §4.3 "including inherited
// interface methods").
func allInterfaces(r *Registry, direct []heap.ClassID) []heap.ClassID {
	seen := make(map[heap.ClassID]bool)
	var out []heap.ClassID
	var walk func(heap.ClassID)
	walk = func(id heap.ClassID) {
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
		if c := r.ClassByID(id); c != nil {
			for _, p := range c.Interfaces {
				walk(p)
			}
		}
	}
	for _, id := range direct {
		walk(id)
	}
	return out
}

func (r *Registry) register(c *Class) heap.ClassID {
	id := heap.ClassID(len(r.classes) + 1)
	c.ID = id
	r.classes = append(r.classes, c)
	r.byName[c.Name] = id
	return id
}

// Magic method names (spec §4.3).
const (
	MagicConstruct     = "__construct"
	MagicDestruct      = "__destruct"
	MagicGet           = "__get"
	MagicSet           = "__set"
	MagicCall          = "__call"
	MagicCallStatic    = "__callStatic"
	MagicToString      = "__toString"
	MagicClone         = "__clone"
)

// ResolveMethod looks up name in class's flattened MRO table.
func (c *Class) ResolveMethod(name string) (*Method, bool) {
	m, ok := c.Methods[name]
	return m, ok
}
