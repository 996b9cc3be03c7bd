package wisp

// frame is one activation record on the VM's call stack: the function
// being executed, the index into the shared value stack where its locals
// begin, and its instruction pointer. Grounded on
// clarete-langlang/go/vm_stack.go's frame bookkeeping, generalized to the
// {callee, stack_start, ip} triple spec.md §6 names.
type frame struct {
	callee     *functionObject
	stackStart int
	ip         int
}

// valueStack is the VM's single shared evaluation + locals stack. Frames
// slice into it via stackStart rather than each owning a separate buffer,
// matching original_source/src/interpreter.c's single-stack design.
//
// Each slot is a *Value rather than a Value. original_source's locals are
// plain value_t slots and upvalues are snapshot copies of them (see
// interpreter.c's OP_CLOSE, which buffer_pushes a copy); DESIGN.md records
// why wisp departs from that here: end-to-end scenario 5 requires a
// closure's STORE_UP to be visible to the defining frame's own LOAD of
// the same variable afterwards, which snapshot captures cannot give. By
// giving every local its own cell and having LOAD_UP/CLOSE capture the
// cell's pointer rather than its contents, a store through either the
// local slot or the upvalue mutates the one cell both see -- ordinary Go
// reference semantics, without needing clox's open/closed-upvalue
// machinery to make it safe across frame lifetimes.
type valueStack struct {
	data []*Value
}

// Push allocates a fresh cell holding v and pushes it.
func (s *valueStack) Push(v Value) {
	s.data = append(s.data, &v)
}

// PushCell pushes an existing cell, aliasing whatever it already shares.
func (s *valueStack) PushCell(c *Value) {
	s.data = append(s.data, c)
}

func (s *valueStack) Pop() Value {
	c := s.data[len(s.data)-1]
	s.data = s.data[:len(s.data)-1]
	return *c
}

// PopCell pops and returns the cell itself, without dereferencing.
func (s *valueStack) PopCell() *Value {
	c := s.data[len(s.data)-1]
	s.data = s.data[:len(s.data)-1]
	return c
}

func (s *valueStack) Top() Value {
	return *s.data[len(s.data)-1]
}

func (s *valueStack) TopCell() *Value {
	return s.data[len(s.data)-1]
}

func (s *valueStack) At(i int) Value {
	return *s.data[i]
}

func (s *valueStack) Cell(i int) *Value {
	return s.data[i]
}

// Set stores v's content into the existing cell at i, preserving its
// identity -- this is how STORE mutates a captured local in place.
func (s *valueStack) Set(i int, v Value) {
	*s.data[i] = v
}

func (s *valueStack) Len() int {
	return len(s.data)
}

// Truncate discards every element from index i onward.
func (s *valueStack) Truncate(i int) {
	s.data = s.data[:i]
}

// frameStack is the VM's call stack.
type frameStack struct {
	frames []frame
}

func (fs *frameStack) Push(f frame) {
	fs.frames = append(fs.frames, f)
}

func (fs *frameStack) Pop() frame {
	f := fs.frames[len(fs.frames)-1]
	fs.frames = fs.frames[:len(fs.frames)-1]
	return f
}

func (fs *frameStack) Top() *frame {
	return &fs.frames[len(fs.frames)-1]
}

func (fs *frameStack) Len() int {
	return len(fs.frames)
}
