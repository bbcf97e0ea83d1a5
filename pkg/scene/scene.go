// Package scene provides the scene graph consumed by the baking pipeline.
//
// Nodes live in a Graph arena and refer to each other by NodeID. A Group owns
// its children; the parent link on every node is a plain handle into the same
// arena, so there are no owning back-pointers.
package scene

import (
	"fmt"
	"strings"

	"github.com/Faultbox/aobake/pkg/math"
)

// NodeID is a handle to a node inside a Graph.
type NodeID int32

// NoNode marks the absence of a node (the root's parent).
const NoNode NodeID = -1

// Kind identifies the concrete node type.
type Kind uint8

const (
	KindGroup Kind = iota
	KindMesh
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "Group"
	case KindMesh:
		return "Mesh"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Node is implemented only by *Group and *Mesh.
type Node interface {
	Kind() Kind
	Base() *NodeBase
}

// NodeBase holds the fields shared by every node.
type NodeBase struct {
	ID     NodeID
	Name   string // path segment, unique within the parent's children
	Parent NodeID
}

// Base returns the shared node fields.
func (b *NodeBase) Base() *NodeBase { return b }

// Group is an interior node with a local-to-parent transform.
type Group struct {
	NodeBase
	Transform math.Mat4
	Children  []NodeID
}

// Kind returns KindGroup.
func (*Group) Kind() Kind { return KindGroup }

// Mesh is a leaf node holding triangles.
type Mesh struct {
	NodeBase
	Triangles []Triangle
}

// Kind returns KindMesh.
func (*Mesh) Kind() Kind { return KindMesh }

// NewMesh creates a detached mesh. Attach it with Graph.AttachMesh.
func NewMesh(name string) *Mesh {
	return &Mesh{NodeBase: NodeBase{ID: NoNode, Name: name, Parent: NoNode}}
}

// Add appends a triangle.
func (m *Mesh) Add(tri Triangle) {
	m.Triangles = append(m.Triangles, tri)
}

// Triangle is one primitive with optional per-vertex attributes.
// Populated attribute slices always have exactly three entries aligned with Vertices.
type Triangle struct {
	Vertices  [3]math.Vec3
	Normals   []math.Vec3
	TexCoords []math.Vec2
	GlobalUVs []math.Vec2 // pre-unwrap UVs that seed atlas packing
}

// NewTriangle creates a triangle with positions only.
func NewTriangle(v0, v1, v2 math.Vec3) Triangle {
	return Triangle{Vertices: [3]math.Vec3{v0, v1, v2}}
}

// Graph is the arena that owns every node of a scene.
type Graph struct {
	nodes []Node
}

// Root is the ID of the root group of every Graph.
const Root NodeID = 0

// New creates a graph with a root group of the given name.
func New(rootName string) *Graph {
	g := &Graph{}
	g.nodes = append(g.nodes, &Group{
		NodeBase:  NodeBase{ID: Root, Name: rootName, Parent: NoNode},
		Transform: math.Identity(),
	})
	return g
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node for id, or nil when id is out of range.
func (g *Graph) Node(id NodeID) Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Group returns the group for id, or nil if id is not a group.
func (g *Graph) Group(id NodeID) *Group {
	grp, _ := g.Node(id).(*Group)
	return grp
}

// Parent returns the parent ID of id, or NoNode.
func (g *Graph) Parent(id NodeID) NodeID {
	n := g.Node(id)
	if n == nil {
		return NoNode
	}
	return n.Base().Parent
}

// Name returns the name of id, or "" if it does not exist.
func (g *Graph) Name(id NodeID) string {
	n := g.Node(id)
	if n == nil {
		return ""
	}
	return n.Base().Name
}

// AddGroup appends a new identity-transform group under parent.
func (g *Graph) AddGroup(parent NodeID, name string) NodeID {
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, &Group{
		NodeBase:  NodeBase{ID: id, Name: name, Parent: parent},
		Transform: math.Identity(),
	})
	g.link(parent, id)
	return id
}

// AttachMesh takes ownership of a detached mesh and appends it under parent.
func (g *Graph) AttachMesh(parent NodeID, m *Mesh) NodeID {
	id := NodeID(len(g.nodes))
	m.ID = id
	m.Parent = parent
	g.nodes = append(g.nodes, m)
	g.link(parent, id)
	return id
}

func (g *Graph) link(parent, child NodeID) {
	p := g.Group(parent)
	if p == nil {
		panic(fmt.Sprintf("scene: parent %d is not a group", parent))
	}
	p.Children = append(p.Children, child)
}

// String renders the hierarchy for debug output.
func (g *Graph) String() string {
	var sb strings.Builder
	g.write(&sb, Root, 0)
	return sb.String()
}

func (g *Graph) write(sb *strings.Builder, id NodeID, depth int) {
	indent := strings.Repeat("   ", depth)
	switch n := g.Node(id).(type) {
	case *Group:
		fmt.Fprintf(sb, "%sGroup (%s)\n", indent, n.Name)
		for _, c := range n.Children {
			g.write(sb, c, depth+1)
		}
	case *Mesh:
		fmt.Fprintf(sb, "%sMesh (%s) with %d triangles\n", indent, n.Name, len(n.Triangles))
	}
}
