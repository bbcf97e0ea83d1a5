package scene

import (
	"strings"
	"testing"

	"github.com/Faultbox/aobake/pkg/math"
)

// recorder logs traversal events as strings.
type recorder struct {
	events []string
	depth  int
	max    int
}

func (r *recorder) EnterGroup(_ *Graph, grp *Group) {
	r.events = append(r.events, "enter "+grp.Name)
	r.depth++
	if r.depth > r.max {
		r.max = r.depth
	}
}

func (r *recorder) ExitGroup(_ *Graph, grp *Group) {
	r.events = append(r.events, "exit "+grp.Name)
	r.depth--
}

func (r *recorder) VisitMesh(_ *Graph, m *Mesh) {
	r.events = append(r.events, "mesh "+m.Name)
}

func TestNewGraphHasIdentityRoot(t *testing.T) {
	g := New(".")

	root := g.Group(Root)
	if root == nil {
		t.Fatal("root should be a group")
	}
	if root.Name != "." {
		t.Errorf("root name = %q, want \".\"", root.Name)
	}
	if root.Transform != math.Identity() {
		t.Error("root transform should default to identity")
	}
	if root.Parent != NoNode {
		t.Errorf("root parent = %d, want NoNode", root.Parent)
	}
	if len(root.Children) != 0 {
		t.Errorf("expected no children, got %d", len(root.Children))
	}
}

func TestAddGroupLinksParent(t *testing.T) {
	g := New(".")
	a := g.AddGroup(Root, "a")
	b := g.AddGroup(a, "a.b")

	if g.Parent(b) != a {
		t.Errorf("parent of b = %d, want %d", g.Parent(b), a)
	}
	if g.Parent(g.Parent(b)) != Root {
		t.Error("grandparent of b should be root")
	}
	if got := g.Group(a).Children; len(got) != 1 || got[0] != b {
		t.Errorf("children of a = %v, want [%d]", got, b)
	}
	if g.Group(b).Transform != math.Identity() {
		t.Error("new group transform should be identity")
	}
}

func TestAttachMeshAssignsID(t *testing.T) {
	g := New(".")
	holder := g.AddGroup(Root, "geo")
	m := NewMesh("m")
	id := g.AttachMesh(holder, m)

	if m.ID != id || m.Parent != holder {
		t.Errorf("mesh ID/parent = %d/%d, want %d/%d", m.ID, m.Parent, id, holder)
	}
	if g.Node(id).Kind() != KindMesh {
		t.Errorf("kind = %v, want Mesh", g.Node(id).Kind())
	}
	if g.Group(id) != nil {
		t.Error("Group() should return nil for a mesh")
	}
}

func TestAttachMeshUnderMeshPanics(t *testing.T) {
	g := New(".")
	id := g.AttachMesh(Root, NewMesh("m"))

	defer func() {
		if recover() == nil {
			t.Error("expected panic when attaching under a mesh")
		}
	}()
	g.AddGroup(id, "bad")
}

func TestWalkOrderAndBalance(t *testing.T) {
	g := New(".")
	a := g.AddGroup(Root, "a")
	g.AttachMesh(a, NewMesh("m1"))
	b := g.AddGroup(a, "b")
	g.AttachMesh(b, NewMesh("m2"))
	g.AddGroup(Root, "c")

	var r recorder
	Walk(g, &r)

	want := []string{
		"enter .", "enter a", "mesh m1", "enter b", "mesh m2", "exit b", "exit a",
		"enter c", "exit c", "exit .",
	}
	if strings.Join(r.events, ",") != strings.Join(want, ",") {
		t.Errorf("events:\n got %v\nwant %v", r.events, want)
	}
	if r.depth != 0 {
		t.Errorf("unbalanced traversal: depth %d after walk", r.depth)
	}
	if r.max != 3 {
		t.Errorf("max depth = %d, want 3", r.max)
	}
}

func TestCount(t *testing.T) {
	g := TestScene()
	meshes, tris := Count(g)

	if meshes != 7 {
		t.Errorf("meshes = %d, want 7", meshes)
	}
	if tris != 14 {
		t.Errorf("triangles = %d, want 14", tris)
	}
}

func TestQuadGlobalUVs(t *testing.T) {
	m := Quad("q", math.V3(0, 0, 0), math.V3(1, 0, 0), math.V3(0, 1, 0))

	if len(m.Triangles) != 2 {
		t.Fatalf("expected 2 triangles, got %d", len(m.Triangles))
	}
	for i, tri := range m.Triangles {
		if len(tri.GlobalUVs) != 3 {
			t.Errorf("triangle %d: expected 3 global UVs, got %d", i, len(tri.GlobalUVs))
		}
	}
	if m.Triangles[0].Vertices[2] != math.V3(1, 1, 0) {
		t.Errorf("far corner = %v, want (1,1,0)", m.Triangles[0].Vertices[2])
	}
}

func TestGraphString(t *testing.T) {
	g := New(".")
	a := g.AddGroup(Root, "a")
	g.AttachMesh(a, NewMesh("m"))

	s := g.String()
	if !strings.Contains(s, "Group (a)") || !strings.Contains(s, "Mesh (m) with 0 triangles") {
		t.Errorf("unexpected String():\n%s", s)
	}
}

func TestKindString(t *testing.T) {
	if KindGroup.String() != "Group" || KindMesh.String() != "Mesh" {
		t.Error("unexpected kind names")
	}
	if Kind(9).String() != "Unknown(9)" {
		t.Errorf("got %q", Kind(9).String())
	}
}
