package scene

// Visitor receives traversal events. EnterGroup and ExitGroup are always
// called in balanced pairs; meshes are leaves and get a single VisitMesh.
type Visitor interface {
	EnterGroup(g *Graph, grp *Group)
	ExitGroup(g *Graph, grp *Group)
	VisitMesh(g *Graph, m *Mesh)
}

// Walk traverses the graph depth-first from the root in child insertion order.
func Walk(g *Graph, v Visitor) {
	WalkFrom(g, Root, v)
}

// WalkFrom traverses the subtree rooted at id.
func WalkFrom(g *Graph, id NodeID, v Visitor) {
	switch n := g.Node(id).(type) {
	case *Group:
		v.EnterGroup(g, n)
		for _, c := range n.Children {
			WalkFrom(g, c, v)
		}
		v.ExitGroup(g, n)
	case *Mesh:
		v.VisitMesh(g, n)
	}
}

// Counter counts meshes and triangles in one pass.
type Counter struct {
	Meshes    int
	Triangles int
}

func (c *Counter) EnterGroup(*Graph, *Group) {}
func (c *Counter) ExitGroup(*Graph, *Group)  {}

func (c *Counter) VisitMesh(_ *Graph, m *Mesh) {
	c.Meshes++
	c.Triangles += len(m.Triangles)
}

// Count returns the number of meshes and triangles reachable from the root.
func Count(g *Graph) (meshes, triangles int) {
	var c Counter
	Walk(g, &c)
	return c.Meshes, c.Triangles
}
