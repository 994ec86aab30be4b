package scene

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/paulmach/orb"
)

// NodeType identifies what a Node draws.
type NodeType uint8

const (
	NodeTypeContainer NodeType = iota // groups children, draws nothing
	NodeTypeMesh                      // DrawTriangles32 with vertex colors
	NodeTypeSprite                    // DrawImage of a decoded raster tile
)

// nodeIDCounter is a plain counter; the scene is only touched from the game loop.
var nodeIDCounter uint32

func nextNodeID() uint32 {
	nodeIDCounter++
	return nodeIDCounter
}

// Node is one element of the map scene tree. Scale containers, tiles and
// the meshes painted for features are all Nodes.
type Node struct {
	ID   uint32
	Name string
	Type NodeType

	Parent   *Node
	children []*Node

	// Local transform. Maps have no rotation or skew.
	X, Y   float64
	ScaleX float64
	ScaleY float64

	worldTransform [6]float64
	worldAlpha     float64
	transformDirty bool

	Alpha   float64
	Visible bool

	// Mesh fields (NodeTypeMesh). Vertex positions are in layer units.
	Vertices         []ebiten.Vertex
	Indices          []uint32
	FillRule         ebiten.FillRule
	transformedVerts []ebiten.Vertex

	// Sprite fields (NodeTypeSprite).
	Image *ebiten.Image

	// bounds is the layer-space area the node covers, used for culling.
	bounds    orb.Bound
	hasBounds bool

	disposed bool
}

func nodeDefaults(n *Node) {
	n.ID = nextNodeID()
	n.ScaleX = 1
	n.ScaleY = 1
	n.Alpha = 1
	n.Visible = true
	n.transformDirty = true
}

// NewContainer creates a node with no visual representation.
func NewContainer(name string) *Node {
	n := &Node{Name: name, Type: NodeTypeContainer}
	nodeDefaults(n)
	return n
}

// NewMesh creates a mesh node drawn with the white pixel texture, so the
// vertex colors are the fill.
func NewMesh(name string, vertices []ebiten.Vertex, indices []uint32, rule ebiten.FillRule) *Node {
	n := &Node{
		Name:     name,
		Type:     NodeTypeMesh,
		Vertices: vertices,
		Indices:  indices,
		FillRule: rule,
	}
	nodeDefaults(n)
	return n
}

// NewSprite creates a node that draws img with its top-left at the origin.
func NewSprite(name string, img *ebiten.Image) *Node {
	n := &Node{Name: name, Type: NodeTypeSprite, Image: img}
	nodeDefaults(n)
	return n
}

// --- Tree manipulation ---

// AddChild appends child, drawing it above its siblings. A child that
// already has a parent is detached first. Panics on nil or on a cycle.
func (n *Node) AddChild(child *Node) {
	if child != nil && child.Parent != nil && !isAncestor(child, n) {
		child.Parent.removeChildByPtr(child)
		child.Parent = nil
	}
	n.AddChildAt(child, len(n.children))
}

// AddChildAt inserts child at index; index 0 draws first, behind the rest.
func (n *Node) AddChildAt(child *Node, index int) {
	if child == nil {
		panic("scene: cannot add nil child")
	}
	if isAncestor(child, n) {
		panic("scene: adding child would create a cycle")
	}
	if child.Parent != nil {
		child.Parent.removeChildByPtr(child)
	}
	if index < 0 || index > len(n.children) {
		panic("scene: child index out of range")
	}
	child.Parent = n
	n.children = append(n.children, nil)
	copy(n.children[index+1:], n.children[index:])
	n.children[index] = child
	markSubtreeDirty(child)
}

// RemoveChild detaches child. Panics if child.Parent != n.
func (n *Node) RemoveChild(child *Node) {
	if child.Parent != n {
		panic("scene: child's parent is not this node")
	}
	n.removeChildByPtr(child)
	child.Parent = nil
	markSubtreeDirty(child)
}

// RemoveFromParent detaches n; no-op without a parent.
func (n *Node) RemoveFromParent() {
	if n.Parent == nil {
		return
	}
	n.Parent.RemoveChild(n)
}

// Children returns the child list in draw order. Do not mutate it.
func (n *Node) Children() []*Node {
	return n.children
}

// NumChildren returns the number of children.
func (n *Node) NumChildren() int {
	return len(n.children)
}

// ChildAt returns the child at index.
func (n *Node) ChildAt(index int) *Node {
	return n.children[index]
}

// IndexOf returns the position of child among n's children, or -1.
func (n *Node) IndexOf(child *Node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

// SetChildIndex moves child to index among its siblings.
func (n *Node) SetChildIndex(child *Node, index int) {
	if child.Parent != n {
		panic("scene: child's parent is not this node")
	}
	if index < 0 || index >= len(n.children) {
		panic("scene: child index out of range")
	}
	old := n.IndexOf(child)
	if old == index {
		return
	}
	if old < index {
		copy(n.children[old:], n.children[old+1:index+1])
	} else {
		copy(n.children[index+1:], n.children[index:old])
	}
	n.children[index] = child
}

// --- Disposal ---

// Dispose detaches n and releases it and its descendants. Sprite images are
// deallocated; the shared white pixel is not.
func (n *Node) Dispose() {
	if n.disposed {
		return
	}
	n.RemoveFromParent()
	n.dispose()
}

func (n *Node) dispose() {
	n.disposed = true
	n.ID = 0
	for _, child := range n.children {
		child.Parent = nil
		child.dispose()
	}
	n.children = nil
	n.Parent = nil
	if n.Image != nil {
		n.Image.Deallocate()
		n.Image = nil
	}
	n.Vertices = nil
	n.Indices = nil
	n.transformedVerts = nil
}

// IsDisposed reports whether n has been disposed.
func (n *Node) IsDisposed() bool {
	return n.disposed
}

// --- Helpers ---

func isAncestor(candidate, node *Node) bool {
	for p := node; p != nil; p = p.Parent {
		if p == candidate {
			return true
		}
	}
	return false
}

// removeChildByPtr removes child from n.children without clearing child.Parent.
func (n *Node) removeChildByPtr(child *Node) {
	for i, c := range n.children {
		if c == child {
			copy(n.children[i:], n.children[i+1:])
			n.children[len(n.children)-1] = nil
			n.children = n.children[:len(n.children)-1]
			return
		}
	}
}

func markSubtreeDirty(node *Node) {
	node.transformDirty = true
	for _, child := range node.children {
		markSubtreeDirty(child)
	}
}
