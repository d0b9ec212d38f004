package heap

// Resource is an opaque external handle (file descriptor, DB connection,
// …) with a type name and a destructor callback invoked when its
// refcount reaches zero (spec §3).
type Resource struct {
	Header
	TypeName string
	Handle   interface{}
	Destroy  func(handle interface{})
}

// destroy invokes the destructor exactly once, guarded by the memory
// manager calling this only from its zero-refcount release path.
func (r *Resource) destroy() {
	if r.Destroy != nil {
		r.Destroy(r.Handle)
	}
}

// Close is the pkg/memory release hook for Resource boxes.
func (r *Resource) Close() { r.destroy() }
