package wisp

import "golang.org/x/exp/slices"

// NodeKind discriminates the AST variants spec.md §4.5 names.
type NodeKind int

const (
	NodeBinary NodeKind = iota
	NodeBlock
	NodeBranch
	NodeCall
	NodeFunction
	NodeIdentifier
	NodeLiteral
	NodeProperty
	NodeReturn
	NodeUnary
	NodeVarDecl
)

// Node is wisp's single heterogeneous AST node, tagged by Kind with the
// fields relevant to that kind populated and the rest left zero --
// mirrors original_source/src/parser/ast.c's ast_t tagged-union, which
// likewise keeps every variant's children behind one node type rather
// than a Go sum-type-via-interface per kind (there's no dispatch beyond a
// kind switch in the compiler, so the extra interface layer buys nothing).
type Node struct {
	Kind NodeKind
	Line int

	// Binary / Unary
	Op    TokenType
	Left  *Node
	Right *Node // Binary RHS, or Unary operand

	// Block
	Children []*Node
	Scope    *Scope

	// Branch
	Cond *Node
	Then *Node
	Else *Node // nil if no else clause

	// Call
	Callee *Node
	Args   []*Node

	// Function
	Name   int // identifier table index, -1 if anonymous
	Params []Token
	Body   *Node // always a Block

	// Identifier
	Ident Token

	// Literal
	IsNull    bool
	BoolValue bool
	Lit       literal

	// Property
	Receiver *Node
	Prop     Token

	// VarDecl
	Target Token
	Init   *Node
	Slot   int
}

// scopeNotFound is the sentinel scopeAddLocal/scopeFindLocalOrUpvalue
// return when a lookup fails to find a slot -- distinct from any real
// slot index (which are always ≥ 0).
const scopeNotFound = -1

// upvalueMask tags a slot index returned by scopeFindLocalOrUpvalue as an
// upvalue rather than a local, per spec.md §4.5. Bit 62 leaves the index
// itself representable in a plain int without sign ambiguity.
const upvalueMask = 1 << 62

// Scope is a lexical environment attached to every Block node: an
// ordered list of locals (their runtime stack slot is their index in
// this slice) and an ordered list of captured upvalues, plus a parent
// link for recursive resolution. Grounded on spec.md §3's Scope
// definition and original_source/src/parser.c's scope_t.
type Scope struct {
	parent   *Scope
	locals   []Token
	upvalues []Token
}

func newScope(parent *Scope) *Scope {
	return &Scope{parent: parent}
}

// addLocal appends t to locals unless an identifier-equal token is
// already declared, returning its slot index, or scopeNotFound if it was
// already present (a redeclaration).
func (s *Scope) addLocal(t Token) int {
	if slices.ContainsFunc(s.locals, func(existing Token) bool { return existing.Equals(t) }) {
		return scopeNotFound
	}
	s.locals = append(s.locals, t)
	return len(s.locals) - 1
}

// findLocalOrUpvalue searches locals, then upvalues, then recursively the
// parent chain. A hit in an ancestor scope is registered as an upvalue of
// every intervening scope down to (and including) s, and the returned
// index is tagged with upvalueMask. Per spec.md §3's invariant, the same
// token is never appended to one scope's upvalues list twice.
func (s *Scope) findLocalOrUpvalue(t Token) int {
	if i := slices.IndexFunc(s.locals, func(local Token) bool { return local.Equals(t) }); i != scopeNotFound {
		return i
	}
	if i := slices.IndexFunc(s.upvalues, func(up Token) bool { return up.Equals(t) }); i != scopeNotFound {
		return i | upvalueMask
	}
	if s.parent == nil {
		return scopeNotFound
	}
	if s.parent.findLocalOrUpvalue(t) == scopeNotFound {
		return scopeNotFound
	}
	s.upvalues = append(s.upvalues, t)
	return (len(s.upvalues) - 1) | upvalueMask
}

// findLocal is the compiler's single-level counterpart to
// findLocalOrUpvalue: it checks only s's own locals and upvalues, never
// walking into s.parent. By the time compilation runs, the parser has
// already threaded every cross-scope reference down through each
// intervening scope's upvalues list (that's what findLocalOrUpvalue's
// recursive case does), so a single-level lookup here always suffices --
// exactly original_source/src/compiler.c's scope_find_local.
func (s *Scope) findLocal(t Token) int {
	if i := slices.IndexFunc(s.locals, func(local Token) bool { return local.Equals(t) }); i != scopeNotFound {
		return i
	}
	if i := slices.IndexFunc(s.upvalues, func(up Token) bool { return up.Equals(t) }); i != scopeNotFound {
		return i | upvalueMask
	}
	return scopeNotFound
}

func isUpvalueSlot(slot int) bool {
	return slot&upvalueMask != 0
}

func upvalueIndex(slot int) int {
	return slot &^ upvalueMask
}
