package object

import "github.com/corewell/phprt/pkg/heap"

// NoShape is the sentinel ShapeID meaning "no shape" — heap.ShapeID 0 is
// never minted by ShapeRegistry, so zero-valued Objects (from a pool
// reset) can be told apart from real instances.
const NoShape heap.ShapeID = 0

// shapeNode is one node of the shape tree described in spec §4.3:
// "Each class owns a root shape; instances reference a shape node."
// A node other than the root was reached by adding exactly one named
// property to its parent; Depth-1 is therefore the slot offset that
// property was assigned.
type shapeNode struct {
	id        heap.ShapeID
	parent    heap.ShapeID
	addedName string // "" for the root
	depth     int    // number of properties reachable from this node, root == 0
	children  map[string]heap.ShapeID
}

// ShapeRegistry owns every shape node ever minted. Shapes are shared
// structural descriptors, not per-instance state: two instances that
// added the same properties in the same order end up pointing at the
// same ShapeID (spec §4.3 "reuses a previously-created child shape if
// the same name was added before").
type ShapeRegistry struct {
	nodes []*shapeNode // index 0 unused; nodes[id-1] is shape id
}

// NewShapeRegistry returns an empty registry.
func NewShapeRegistry() *ShapeRegistry {
	return &ShapeRegistry{}
}

// NewRootShape mints a fresh root shape (no properties), one per class.
func (r *ShapeRegistry) NewRootShape() heap.ShapeID {
	id := heap.ShapeID(len(r.nodes) + 1)
	r.nodes = append(r.nodes, &shapeNode{id: id, children: make(map[string]heap.ShapeID)})
	return id
}

func (r *ShapeRegistry) node(id heap.ShapeID) *shapeNode {
	if id == NoShape || int(id) > len(r.nodes) {
		return nil
	}
	return r.nodes[id-1]
}

// Transition returns the shape reached from shape by adding property
// name, minting a new node only the first time that edge is taken from
// this shape (spec §4.3 shape.transition). The returned slot is the
// offset the new property occupies in the instance's slot vector.
func (r *ShapeRegistry) Transition(shape heap.ShapeID, name string) (next heap.ShapeID, slot int) {
	n := r.node(shape)
	if child, ok := n.children[name]; ok {
		return child, r.node(child).depth - 1
	}
	id := heap.ShapeID(len(r.nodes) + 1)
	child := &shapeNode{
		id:        id,
		parent:    shape,
		addedName: name,
		depth:     n.depth + 1,
		children:  make(map[string]heap.ShapeID),
	}
	r.nodes = append(r.nodes, child)
	n.children[name] = id
	return id, child.depth - 1
}

// Resolve walks shape's parent chain looking for name, per spec §4.3
// "look up the property name in the shape's map (walking parent
// shapes)". Returns the slot index and true on a hit.
func (r *ShapeRegistry) Resolve(shape heap.ShapeID, name string) (slot int, ok bool) {
	for n := r.node(shape); n != nil; n = r.node(n.parent) {
		if n.addedName == name {
			return n.depth - 1, true
		}
	}
	return 0, false
}

// PropertyCount returns the number of properties an instance of shape
// carries — equivalently the length its slot vector must have.
func (r *ShapeRegistry) PropertyCount(shape heap.ShapeID) int {
	if n := r.node(shape); n != nil {
		return n.depth
	}
	return 0
}

// PropertyNames returns every property name reachable from shape, in
// slot order (root-to-leaf), for `clone with {...}` validation and
// var_dump-style introspection.
func (r *ShapeRegistry) PropertyNames(shape heap.ShapeID) []string {
	var chain []*shapeNode
	for n := r.node(shape); n != nil; n = r.node(n.parent) {
		chain = append(chain, n)
	}
	names := make([]string, r.PropertyCount(shape))
	for _, n := range chain {
		if n.addedName != "" {
			names[n.depth-1] = n.addedName
		}
	}
	return names
}
