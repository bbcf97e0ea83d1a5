package scene

import "github.com/Faultbox/aobake/pkg/math"

// Quad builds a two-triangle mesh spanning v0, v0+span0, v0+span0+span1 and
// v0+span1, with global UVs covering the unit square.
func Quad(name string, v0, span0, span1 math.Vec3) *Mesh {
	v1 := v0.Add(span0)
	v2 := v0.Add(span0).Add(span1)
	v3 := v0.Add(span1)

	t0 := NewTriangle(v0, v1, v2)
	t0.GlobalUVs = []math.Vec2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}
	t1 := NewTriangle(v2, v3, v0)
	t1.GlobalUVs = []math.Vec2{{X: 1, Y: 1}, {X: 0, Y: 1}, {X: 0, Y: 0}}

	m := NewMesh(name)
	m.Add(t0)
	m.Add(t1)
	return m
}

// TestScene builds the built-in floor-and-box scene used for smoke bakes.
func TestScene() *Graph {
	g := New(".")

	floor := g.AddGroup(Root, ".floor")
	g.AttachMesh(floor, Quad("quad", math.V3(-4, 0, 0.8), math.V3(8, 0, 0), math.V3(0, 6, 0)))

	box := g.AddGroup(Root, ".box")
	const s = 2
	o := math.V3(1, 2, 1)
	x, y, z := math.V3(s, 0, 0), math.V3(0, s, 0), math.V3(0, 0, s)
	g.AttachMesh(box, Quad("quad", o, x, z))
	g.AttachMesh(box, Quad("quad", o, z, y))
	g.AttachMesh(box, Quad("quad", o, y, x))
	g.AttachMesh(box, Quad("quad", math.V3(1, 2, 1+s), x, y))
	g.AttachMesh(box, Quad("quad", math.V3(1+s, 2, 1), y, z))
	g.AttachMesh(box, Quad("quad", math.V3(1, 2+s, 1), z, x))

	return g
}
