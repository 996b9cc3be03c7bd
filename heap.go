package wisp

import "golang.org/x/exp/slices"

// Heap is the VM's managed object store: every allocation threads the new
// object onto an intrusive linked list, and Collect runs a stop-the-world
// mark-and-sweep over it. Grounded on original_source/src/gc.c.
type Heap struct {
	list   *objectHeader
	pinned []*objectHeader
	pool   *stringPool
}

func NewHeap() *Heap {
	return &Heap{pool: newStringPool()}
}

// allocate prepends a freshly created payload's header onto the heap list.
func (h *Heap) allocate(payload objectPayload) *objectHeader {
	obj := &objectHeader{payload: payload}
	obj.next = h.list
	h.list = obj
	return obj
}

// KeepAlive pins obj as a GC root until a matching Release, implementing
// vm_gc_keep_alive. Used for objects under construction that aren't yet
// reachable from the stack or globals (e.g. the Function a fresh
// compilation produces, before it's handed to the interpreter).
func (h *Heap) KeepAlive(obj *objectHeader) {
	h.pinned = append(h.pinned, obj)
}

// Release unpins obj, implementing vm_gc_release.
func (h *Heap) Release(obj *objectHeader) {
	h.pinned = slices.DeleteFunc(h.pinned, func(o *objectHeader) bool {
		return o == obj
	})
}

// --- Allocators ---

func (h *Heap) NewString(bytes string) *stringObject {
	return h.pool.intern(h, bytes)
}

func (h *Heap) NewArray() *arrayObject {
	a := &arrayObject{}
	a.header = h.allocate(a)
	return a
}

func (h *Heap) NewArrayFrom(values []Value) *arrayObject {
	a := h.NewArray()
	for _, v := range values {
		a.values.Push(v)
	}
	return a
}

func (h *Heap) NewTable() *tableObject {
	t := newTableObject()
	t.header = h.allocate(t)
	return t
}

func (h *Heap) NewFunction(name string, arity uint8) *functionObject {
	fn := &functionObject{name: name, arity: arity, compiled: &compiledBody{}}
	fn.header = h.allocate(fn)
	return fn
}

func (h *Heap) NewNativeFunction(name string, arity uint8, fn nativeFn) *functionObject {
	f := &functionObject{name: name, arity: arity, native: fn}
	f.header = h.allocate(f)
	return f
}

func (h *Heap) NewClass(name *stringObject, super *classObject) *classObject {
	c := &classObject{name: name, super: super, properties: h.NewTable()}
	c.header = h.allocate(c)
	return c
}

func (h *Heap) NewInstance(class *classObject, fieldCount int) *instanceObject {
	inst := &instanceObject{class: class, fields: make([]Value, fieldCount)}
	inst.header = h.allocate(inst)
	return inst
}

// Collect runs a full stop-the-world mark-and-sweep. roots is the set of
// unconditionally reachable values at the moment of collection -- the
// evaluation stack plus the global table, supplied by the VM; the heap's
// own pinned set is always included. Returns the number of objects freed.
//
// Phase 1 marks every object on the heap list (mark=true means "slated
// for collection", matching gc.c's initial pass). Phase 2 walks roots and
// recursively clears marks on everything reachable -- the mark bit itself
// doubles as "already visited", so cycles terminate naturally. Phase 3
// sweeps the heap list, freeing and unlinking anything still marked.
func (h *Heap) Collect(roots []Value) int {
	for o := h.list; o != nil; o = o.next {
		o.marked = true
	}

	var unmark func(o *objectHeader)
	unmark = func(o *objectHeader) {
		if o == nil || !o.marked {
			return
		}
		o.marked = false
		if o.class != nil {
			unmark(o.class.header)
		}
		o.payload.traverse(func(v Value) {
			if v.IsObject() {
				unmark(v.AsObject())
			}
		})
	}

	for _, v := range roots {
		if v.IsObject() {
			unmark(v.AsObject())
		}
	}
	for _, p := range h.pinned {
		unmark(p)
	}

	collected := 0
	var prev *objectHeader
	cur := h.list
	for cur != nil {
		next := cur.next
		if cur.marked {
			if prev == nil {
				h.list = next
			} else {
				prev.next = next
			}
			h.free(cur)
			collected++
		} else {
			prev = cur
		}
		cur = next
	}
	return collected
}

// free releases any bookkeeping a kind needs beyond being unlinked from
// the heap list -- only strings need this, to also drop out of the
// string pool (vm_free's OBJECT_STRING case).
func (h *Heap) free(o *objectHeader) {
	if s, ok := o.payload.(*stringObject); ok {
		h.pool.remove(s)
	}
}
