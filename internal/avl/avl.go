// Package avl implements an order-statistics AVL tree.
//
// Nodes live in a growable slice and refer to each other by index. Index 0
// is a sentinel standing for "no node": its height and size are always 0,
// so the balancing code never special-cases missing children. Released
// slots are kept on a free list and reused by later inserts.
//
// Every node tracks the height and the size of its subtree, which makes
// Rank, Offset and At run in O(log n). Insert, Delete and the rebalancing
// walk are iterative and follow parent links up to the root.
package avl

// Handle identifies a node in a Tree. The zero Handle means "no node".
// Handles stay valid until the node is deleted; Delete may move a payload
// between slots, so any handle other than the deleted one may also be
// invalidated by it.
type Handle int32

type node[T any] struct {
	left, right, parent int32
	height, size        int32
	value               T
}

// Tree is a size-augmented AVL tree ordered by cmp. Equal values are kept
// in insertion order relative to each other (duplicates go right).
type Tree[T any] struct {
	nodes []node[T]
	free  []int32
	root  int32
	cmp   func(a, b T) int
}

func New[T any](cmp func(a, b T) int) *Tree[T] {
	return &Tree[T]{
		nodes: make([]node[T], 1),
		cmp:   cmp,
	}
}

// Len returns the number of values in the tree.
func (t *Tree[T]) Len() int {
	return int(t.nodes[t.root].size)
}

// Height returns the height of the tree; 0 when empty.
func (t *Tree[T]) Height() int {
	return int(t.nodes[t.root].height)
}

// Value returns the payload stored at h.
func (t *Tree[T]) Value(h Handle) T {
	return t.nodes[h].value
}

// Insert adds v and returns its handle.
func (t *Tree[T]) Insert(v T) Handle {
	id := t.alloc(v)
	if t.root == 0 {
		t.root = id
		return Handle(id)
	}

	cur := t.root
	for {
		n := &t.nodes[cur]
		if t.cmp(v, n.value) < 0 {
			if n.left == 0 {
				n.left = id
				break
			}
			cur = n.left
		} else {
			if n.right == 0 {
				n.right = id
				break
			}
			cur = n.right
		}
	}
	t.nodes[id].parent = cur
	t.root = t.fix(id)
	return Handle(id)
}

// Find returns a node holding a value equal to v.
func (t *Tree[T]) Find(v T) (Handle, bool) {
	cur := t.root
	for cur != 0 {
		c := t.cmp(v, t.nodes[cur].value)
		switch {
		case c == 0:
			return Handle(cur), true
		case c < 0:
			cur = t.nodes[cur].left
		default:
			cur = t.nodes[cur].right
		}
	}
	return 0, false
}

// Delete removes one value equal to v. It reports whether one was found.
func (t *Tree[T]) Delete(v T) bool {
	h, ok := t.Find(v)
	if !ok {
		return false
	}
	t.DeleteHandle(h)
	return true
}

// DeleteHandle removes the node at h.
func (t *Tree[T]) DeleteHandle(h Handle) {
	id := int32(h)
	n := &t.nodes[id]
	if n.left != 0 && n.right != 0 {
		// The in-order successor has no left child. Take over its payload and
		// unlink the successor slot instead.
		succ := n.right
		for t.nodes[succ].left != 0 {
			succ = t.nodes[succ].left
		}
		n.value = t.nodes[succ].value
		id = succ
	}

	n = &t.nodes[id]
	child := n.left
	if child == 0 {
		child = n.right
	}
	parent := n.parent
	if child != 0 {
		t.nodes[child].parent = parent
	}
	if parent == 0 {
		t.root = child
	} else {
		p := &t.nodes[parent]
		if p.left == id {
			p.left = child
		} else {
			p.right = child
		}
		t.root = t.fix(parent)
	}
	t.release(id)
}

// Rank returns the 0-based in-order position of h.
func (t *Tree[T]) Rank(h Handle) int {
	x := int32(h)
	rank := t.nodes[t.nodes[x].left].size
	for p := t.nodes[x].parent; p != 0; x, p = p, t.nodes[p].parent {
		if t.nodes[p].right == x {
			rank += t.nodes[t.nodes[p].left].size + 1
		}
	}
	return int(rank)
}

// Offset returns the node k positions after h in order (before it when k is
// negative). It returns false when the position falls outside the tree.
func (t *Tree[T]) Offset(h Handle, k int) (Handle, bool) {
	x := int32(h)
	target := int32(k)
	var pos int32
	for pos != target {
		n := &t.nodes[x]
		switch {
		case pos < target && pos+t.nodes[n.right].size >= target:
			x = n.right
			pos += t.nodes[t.nodes[x].left].size + 1
		case pos > target && pos-t.nodes[n.left].size <= target:
			x = n.left
			pos -= t.nodes[t.nodes[x].right].size + 1
		default:
			p := n.parent
			if p == 0 {
				return 0, false
			}
			if t.nodes[p].right == x {
				pos -= t.nodes[n.left].size + 1
			} else {
				pos += t.nodes[n.right].size + 1
			}
			x = p
		}
	}
	return Handle(x), true
}

// At returns the i-th smallest node.
func (t *Tree[T]) At(i int) (Handle, bool) {
	if i < 0 || i >= t.Len() {
		return 0, false
	}
	idx := int32(i)
	cur := t.root
	for {
		n := &t.nodes[cur]
		ls := t.nodes[n.left].size
		switch {
		case idx < ls:
			cur = n.left
		case idx == ls:
			return Handle(cur), true
		default:
			idx -= ls + 1
			cur = n.right
		}
	}
}

// Min returns the smallest node.
func (t *Tree[T]) Min() (Handle, bool) {
	if t.root == 0 {
		return 0, false
	}
	return Handle(t.leftmost(t.root)), true
}

// Ascend calls fn for every value in order until fn returns false.
func (t *Tree[T]) Ascend(fn func(v T) bool) {
	if t.root == 0 {
		return
	}
	for x := t.leftmost(t.root); x != 0; x = t.next(x) {
		if !fn(t.nodes[x].value) {
			return
		}
	}
}

func (t *Tree[T]) leftmost(x int32) int32 {
	for t.nodes[x].left != 0 {
		x = t.nodes[x].left
	}
	return x
}

func (t *Tree[T]) next(x int32) int32 {
	if r := t.nodes[x].right; r != 0 {
		return t.leftmost(r)
	}
	p := t.nodes[x].parent
	for p != 0 && t.nodes[p].right == x {
		x, p = p, t.nodes[p].parent
	}
	return p
}

func (t *Tree[T]) alloc(v T) int32 {
	var id int32
	if k := len(t.free); k > 0 {
		id = t.free[k-1]
		t.free = t.free[:k-1]
	} else {
		t.nodes = append(t.nodes, node[T]{})
		id = int32(len(t.nodes) - 1)
	}
	t.nodes[id] = node[T]{height: 1, size: 1, value: v}
	return id
}

func (t *Tree[T]) release(id int32) {
	t.nodes[id] = node[T]{}
	t.free = append(t.free, id)
}

func (t *Tree[T]) update(x int32) {
	n := &t.nodes[x]
	l, r := &t.nodes[n.left], &t.nodes[n.right]
	n.height = 1 + max(l.height, r.height)
	n.size = 1 + l.size + r.size
}

//	  x                y
//	 / \              / \
//	a   y     =>     x   c
//	   / \          / \
//	  b   c        a   b
func (t *Tree[T]) rotateLeft(x int32) int32 {
	y := t.nodes[x].right
	inner := t.nodes[y].left
	t.nodes[x].right = inner
	if inner != 0 {
		t.nodes[inner].parent = x
	}
	t.nodes[y].left = x
	t.nodes[y].parent = t.nodes[x].parent
	t.nodes[x].parent = y
	t.update(x)
	t.update(y)
	return y
}

func (t *Tree[T]) rotateRight(x int32) int32 {
	y := t.nodes[x].left
	inner := t.nodes[y].right
	t.nodes[x].left = inner
	if inner != 0 {
		t.nodes[inner].parent = x
	}
	t.nodes[y].right = x
	t.nodes[y].parent = t.nodes[x].parent
	t.nodes[x].parent = y
	t.update(x)
	t.update(y)
	return y
}

// fixLeft repairs a node whose left subtree is two levels taller.
func (t *Tree[T]) fixLeft(x int32) int32 {
	l := t.nodes[x].left
	if t.nodes[t.nodes[l].left].height < t.nodes[t.nodes[l].right].height {
		t.nodes[x].left = t.rotateLeft(l)
	}
	return t.rotateRight(x)
}

// fixRight repairs a node whose right subtree is two levels taller.
func (t *Tree[T]) fixRight(x int32) int32 {
	r := t.nodes[x].right
	if t.nodes[t.nodes[r].right].height < t.nodes[t.nodes[r].left].height {
		t.nodes[x].right = t.rotateRight(r)
	}
	return t.rotateLeft(x)
}

// fix walks from x to the root, refreshing metrics and rotating where the
// balance is off. It returns the new root.
func (t *Tree[T]) fix(x int32) int32 {
	for {
		t.update(x)
		lh := t.nodes[t.nodes[x].left].height
		rh := t.nodes[t.nodes[x].right].height

		parent := t.nodes[x].parent
		isLeft := parent != 0 && t.nodes[parent].left == x

		switch {
		case lh == rh+2:
			x = t.fixLeft(x)
		case rh == lh+2:
			x = t.fixRight(x)
		}
		if parent == 0 {
			return x
		}
		if isLeft {
			t.nodes[parent].left = x
		} else {
			t.nodes[parent].right = x
		}
		x = parent
	}
}
