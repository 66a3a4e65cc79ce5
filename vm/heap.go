package vm

import (
	"unsafe"

	"github.com/chazu/ripley/pkg/bytecode"
	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Heap: allocation and the mark-sweep collector
// ---------------------------------------------------------------------------

// initialGCThreshold is the allocation volume that triggers the first
// collection. After each collection the threshold is set to twice the
// surviving volume.
const initialGCThreshold = 1024 * 1024

// gcGrowthFactor scales the next collection threshold from the bytes
// surviving a collection.
const gcGrowthFactor = 2

// Heap owns every Ripley heap object. All objects are threaded onto a
// single intrusive list; the collector frees whatever a mark phase starting
// from the registered roots does not reach. Allocation is the only place a
// collection can start.
type Heap struct {
	objects        Obj   // head of the all-objects list
	strings        Table // intern table; holds its keys weakly
	bytesAllocated int
	nextGC         int
	grayStack      []Obj

	// Stress forces a collection on every allocation. Log emits the
	// collector's debug lines through the ripley.gc logger.
	Stress bool
	Log    bool

	log commonlog.Logger

	// rootMarker is registered by the VM; it marks the value stack,
	// frames, open upvalues, globals, and the interned "init" string.
	rootMarker func(h *Heap)

	// compilerRoots is registered for the duration of a compile; it marks
	// the chain of functions under construction, which are not yet
	// reachable from the VM.
	compilerRoots func(mark func(Obj))

	// tempRoots pins objects that exist but are not yet reachable from
	// any other root, e.g. a fresh string about to be interned.
	tempRoots []Value
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		nextGC: initialGCThreshold,
		log:    commonlog.GetLogger("ripley.gc"),
	}
}

// SetRootMarker registers the VM's root-marking callback.
func (h *Heap) SetRootMarker(fn func(h *Heap)) {
	h.rootMarker = fn
}

// SetCompilerRoots registers (or, with nil, clears) the compiler's
// root-marking callback for the duration of a compile.
func (h *Heap) SetCompilerRoots(fn func(mark func(Obj))) {
	h.compilerRoots = fn
}

// PushTempRoot pins a value for the duration of a multi-step allocation.
func (h *Heap) PushTempRoot(v Value) {
	h.tempRoots = append(h.tempRoots, v)
}

// PopTempRoot releases the most recently pinned value.
func (h *Heap) PopTempRoot() {
	h.tempRoots = h.tempRoots[:len(h.tempRoots)-1]
}

// BytesAllocated returns the tracked live allocation volume.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// ObjectCount walks the object list and returns the number of live objects.
func (h *Heap) ObjectCount() int {
	n := 0
	for o := h.objects; o != nil; o = o.header().next {
		n++
	}
	return n
}

// track links a freshly constructed object into the heap. The collection
// check runs before the object joins the list, so a triggered collection
// can never free the object being allocated.
func (h *Heap) track(obj Obj, size int) {
	if h.Stress || h.bytesAllocated+size > h.nextGC {
		h.Collect()
	}

	hdr := obj.header()
	hdr.next = h.objects
	h.objects = obj
	h.bytesAllocated += size

	if h.Log {
		h.log.Debugf("allocate %d bytes for %s", size, obj.Type())
	}
}

// objSize approximates the retained size of an object: the struct itself
// plus owned buffers. The figures feed the collection trigger, not any
// exact accounting.
func objSize(obj Obj) int {
	switch o := obj.(type) {
	case *String:
		return int(unsafe.Sizeof(*o)) + len(o.Bytes)
	case *Function:
		size := int(unsafe.Sizeof(*o))
		if o.Chunk != nil {
			size += cap(o.Chunk.Code) + cap(o.Chunk.Lines)*8 + cap(o.Chunk.Constants)*int(unsafe.Sizeof(Value{}))
		}
		return size
	case *Native:
		return int(unsafe.Sizeof(*o))
	case *Closure:
		return int(unsafe.Sizeof(*o)) + cap(o.Upvalues)*8
	case *Upvalue:
		return int(unsafe.Sizeof(*o))
	case *Class:
		return int(unsafe.Sizeof(*o))
	case *Instance:
		return int(unsafe.Sizeof(*o))
	case *BoundMethod:
		return int(unsafe.Sizeof(*o))
	default:
		return 64
	}
}

// ---------------------------------------------------------------------------
// Object constructors
// ---------------------------------------------------------------------------

// hashString computes the FNV-1a-32 hash used by the intern table.
func hashString(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// allocateString constructs and tracks a String without consulting the
// intern table. Callers go through CopyString or TakeString.
func (h *Heap) allocateString(s string, hash uint32) *String {
	str := &String{objHeader: objHeader{typ: ObjString}, Bytes: s, Hash: hash}
	h.track(str, objSize(str))

	// Interning inserts into a table that can grow; pin the new string so
	// a collection triggered mid-insert still sees it as a root.
	h.PushTempRoot(bytecode.ObjValue(str))
	h.strings.Set(str, bytecode.NilValue())
	h.PopTempRoot()

	return str
}

// CopyString interns the given bytes, returning the unique String for that
// content. The returned object is shared: callers must treat it as
// immutable.
func (h *Heap) CopyString(s string) *String {
	hash := hashString(s)
	if interned := h.strings.FindString(s, hash); interned != nil {
		return interned
	}
	return h.allocateString(s, hash)
}

// TakeString interns a string whose buffer the caller already owns, such
// as the product of a concatenation. Go strings are immutable, so this
// shares the intern path of CopyString; the name keeps the allocation
// sites honest about ownership.
func (h *Heap) TakeString(s string) *String {
	return h.CopyString(s)
}

// NewFunction creates an empty function under construction by the compiler.
func (h *Heap) NewFunction() *Function {
	fn := &Function{objHeader: objHeader{typ: ObjFunction}, Chunk: bytecode.NewChunk()}
	h.track(fn, objSize(fn))
	return fn
}

// NewNative wraps a host function.
func (h *Heap) NewNative(fn NativeFn) *Native {
	n := &Native{objHeader: objHeader{typ: ObjNative}, Fn: fn}
	h.track(n, objSize(n))
	return n
}

// NewClosure wraps a function with space for its upvalues.
func (h *Heap) NewClosure(fn *Function) *Closure {
	c := &Closure{
		objHeader: objHeader{typ: ObjClosure},
		Function:  fn,
		Upvalues:  make([]*Upvalue, fn.Upvalues),
	}
	h.track(c, objSize(c))
	return c
}

// NewUpvalue captures a stack slot.
func (h *Heap) NewUpvalue(location *Value, slot int) *Upvalue {
	u := &Upvalue{objHeader: objHeader{typ: ObjUpvalue}, location: location, slot: slot}
	h.track(u, objSize(u))
	return u
}

// NewClass creates an empty class.
func (h *Heap) NewClass(name *String) *Class {
	c := &Class{objHeader: objHeader{typ: ObjClass}, Name: name}
	h.track(c, objSize(c))
	return c
}

// NewInstance creates an instance with no fields.
func (h *Heap) NewInstance(class *Class) *Instance {
	i := &Instance{objHeader: objHeader{typ: ObjInstance}, Class: class}
	h.track(i, objSize(i))
	return i
}

// NewBoundMethod pairs a receiver with a method closure.
func (h *Heap) NewBoundMethod(receiver Value, method *Closure) *BoundMethod {
	b := &BoundMethod{objHeader: objHeader{typ: ObjBoundMethod}, Receiver: receiver, Method: method}
	h.track(b, objSize(b))
	return b
}

// ---------------------------------------------------------------------------
// Collection
// ---------------------------------------------------------------------------

// Collect runs a full stop-the-world mark-sweep collection.
func (h *Heap) Collect() {
	before := h.bytesAllocated
	if h.Log {
		h.log.Debug("gc begin")
	}

	h.markRoots()
	h.traceReferences()
	h.strings.removeWhite()
	h.sweep()

	h.nextGC = h.bytesAllocated * gcGrowthFactor

	if h.Log {
		h.log.Infof("gc collected %s (%s -> %s), next at %s",
			humanize.Bytes(uint64(before-h.bytesAllocated)),
			humanize.Bytes(uint64(before)),
			humanize.Bytes(uint64(h.bytesAllocated)),
			humanize.Bytes(uint64(h.nextGC)))
	}
}

// markRoots greys every root: the VM's registered roots, the compiler's
// in-progress functions, and temporarily pinned values.
func (h *Heap) markRoots() {
	if h.rootMarker != nil {
		h.rootMarker(h)
	}
	if h.compilerRoots != nil {
		h.compilerRoots(h.markObject)
	}
	for _, v := range h.tempRoots {
		h.markValue(v)
	}
}

// markValue greys the object behind a value, if any.
func (h *Heap) markValue(v Value) {
	if !v.IsObj() {
		return
	}
	if obj, ok := v.AsObj().(Obj); ok {
		h.markObject(obj)
	}
}

// markObject greys an object: sets its mark bit and queues it for tracing.
func (h *Heap) markObject(obj Obj) {
	if obj == nil {
		return
	}
	hdr := obj.header()
	if hdr.marked {
		return
	}
	hdr.marked = true
	h.grayStack = append(h.grayStack, obj)

	if h.Log {
		h.log.Debugf("mark %s %s", obj.Type(), obj)
	}
}

// markTable greys a table's keys and values.
func (h *Heap) markTable(t *Table) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil {
			h.markObject(e.key)
			h.markValue(e.value)
		}
	}
}

// traceReferences drains the gray worklist, blackening each object by
// marking everything it references.
func (h *Heap) traceReferences() {
	for len(h.grayStack) > 0 {
		obj := h.grayStack[len(h.grayStack)-1]
		h.grayStack = h.grayStack[:len(h.grayStack)-1]
		h.blacken(obj)
	}
}

// blacken marks an object's referents. Strings and natives have none.
func (h *Heap) blacken(obj Obj) {
	if h.Log {
		h.log.Debugf("blacken %s %s", obj.Type(), obj)
	}

	switch o := obj.(type) {
	case *Function:
		if o.Name != nil {
			h.markObject(o.Name)
		}
		for _, c := range o.Chunk.Constants {
			h.markValue(c)
		}
	case *Closure:
		h.markObject(o.Function)
		for _, u := range o.Upvalues {
			if u != nil {
				h.markObject(u)
			}
		}
	case *Upvalue:
		h.markValue(o.closed)
	case *Class:
		h.markObject(o.Name)
		h.markTable(&o.Methods)
	case *Instance:
		h.markObject(o.Class)
		h.markTable(&o.Fields)
	case *BoundMethod:
		h.markValue(o.Receiver)
		h.markObject(o.Method)
	}
}

// sweep unlinks every unmarked object from the object list and clears the
// mark bit on survivors. Unlinked objects are unreachable from the engine
// and fall to the host allocator.
func (h *Heap) sweep() {
	var previous Obj
	obj := h.objects

	for obj != nil {
		hdr := obj.header()
		if hdr.marked {
			hdr.marked = false
			previous = obj
			obj = hdr.next
			continue
		}

		unreached := obj
		obj = hdr.next
		if previous == nil {
			h.objects = obj
		} else {
			previous.header().next = obj
		}

		h.free(unreached)
	}
}

// free unlinks an object's size from the accounting. The host allocator
// reclaims the memory once nothing references the object.
func (h *Heap) free(obj Obj) {
	size := objSize(obj)
	h.bytesAllocated -= size
	obj.header().next = nil

	if h.Log {
		h.log.Debugf("free %d bytes from %s", size, obj.Type())
	}
}
