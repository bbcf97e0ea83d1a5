package flatten

import (
	"testing"

	"github.com/Faultbox/aobake/pkg/atlas"
	"github.com/Faultbox/aobake/pkg/math"
	"github.com/Faultbox/aobake/pkg/scene"
)

const eps = 1e-5

// balanceProbe wraps an Extractor and counts group events.
type balanceProbe struct {
	*Extractor
	enters, exits int
	maxDepth      int
}

func (p *balanceProbe) EnterGroup(g *scene.Graph, grp *scene.Group) {
	p.enters++
	p.Extractor.EnterGroup(g, grp)
	p.maxDepth = max(p.maxDepth, p.Depth())
}

func (p *balanceProbe) ExitGroup(g *scene.Graph, grp *scene.Group) {
	p.exits++
	p.Extractor.ExitGroup(g, grp)
}

// component builds root -> comp -> holder -> mesh the way the loader does.
func component(g *scene.Graph, parent scene.NodeID, path string, local math.Mat4, m *scene.Mesh) scene.NodeID {
	comp := g.AddGroup(parent, path)
	g.Group(comp).Transform = local
	holder := g.AddGroup(comp, "geo")
	g.AttachMesh(holder, m)
	return comp
}

func triMesh(withNormals, withUVs bool) *scene.Mesh {
	tri := scene.NewTriangle(math.V3(0, 0, 0), math.V3(1, 0, 0), math.V3(0, 1, 0))
	if withNormals {
		tri.Normals = []math.Vec3{{Z: 2}, {Z: 2}, {Z: 2}}
	}
	if withUVs {
		tri.GlobalUVs = []math.Vec2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}}
	}
	m := scene.NewMesh("mesh")
	m.Add(tri)
	return m
}

func TestTransformStackBalance(t *testing.T) {
	graphs := map[string]*scene.Graph{
		"root only":  scene.New("."),
		"test scene": scene.TestScene(),
	}

	deep := scene.New(".")
	parent := scene.Root
	for i := 0; i < 6; i++ {
		parent = component(deep, parent, ".c", math.Translate(1, 0, 0), triMesh(true, true))
	}
	graphs["deep"] = deep

	for name, g := range graphs {
		t.Run(name, func(t *testing.T) {
			_, tris := scene.Count(g)
			probe := &balanceProbe{Extractor: NewExtractor(NewBuffers(tris), atlas.NewPackerFor(tris, 256))}
			before := probe.Accumulated()

			scene.Walk(g, probe)

			if probe.enters != probe.exits {
				t.Errorf("enters = %d, exits = %d", probe.enters, probe.exits)
			}
			if probe.Depth() != 0 {
				t.Errorf("stack depth after traversal = %d", probe.Depth())
			}
			if probe.Accumulated() != before {
				t.Error("accumulated transform changed across a full traversal")
			}
			if probe.Written() != tris {
				t.Errorf("wrote %d triangles, want %d", probe.Written(), tris)
			}
		})
	}
}

func TestWorldSpacePositions(t *testing.T) {
	g := scene.New(".")
	outer := component(g, scene.Root, ".a", math.Translate(10, 0, 0), triMesh(false, true))
	component(g, outer, ".a.b", math.Scale(2, 2, 2), triMesh(false, true))

	res := Flatten(g, 256)
	pos := res.Buffers.Positions

	// second vertex of the first triangle: (1,0,0) + (10,0,0)
	if pos[3] != 11 || pos[4] != 0 || pos[5] != 0 {
		t.Errorf("outer vertex = %v, want (11, 0, 0)", pos[3:6])
	}
	// nested: translate(10) * scale(2) * (1,0,0) = (12,0,0)
	if pos[9+3] != 12 {
		t.Errorf("nested vertex x = %v, want 12", pos[9+3])
	}
}

func TestNormalsIgnoreTranslationAndRenormalize(t *testing.T) {
	g := scene.New(".")
	local := math.Translate(5, 5, 5).Mul(math.RotateX(math.Radians(90)))
	component(g, scene.Root, ".a", local, triMesh(true, false))

	res := Flatten(g, 256)
	n := res.Buffers.Normals
	// (0,0,2) rotated 90 about X -> (0,-2,0) -> normalized (0,-1,0)
	got := math.V3(n[0], n[1], n[2])
	if got.Sub(math.V3(0, -1, 0)).Length() > eps {
		t.Errorf("normal = %v, want (0, -1, 0)", got)
	}
}

func TestMissingNormalsStayZero(t *testing.T) {
	g := scene.New(".")
	component(g, scene.Root, ".a", math.Identity(), triMesh(false, false))

	res := Flatten(g, 256)
	for i, v := range res.Buffers.Normals {
		if v != 0 {
			t.Fatalf("normal[%d] = %v, want 0", i, v)
		}
	}
}

func TestZeroLengthNormalIsNotNormalized(t *testing.T) {
	g := scene.New(".")
	m := triMesh(false, false)
	m.Triangles[0].Normals = []math.Vec3{{}, {}, {}}
	component(g, scene.Root, ".a", math.Identity(), m)

	res := Flatten(g, 256)
	for i, v := range res.Buffers.Normals {
		if v != v || v != 0 { // NaN check
			t.Fatalf("normal[%d] = %v, want 0", i, v)
		}
	}
}

func TestMappingUsesComponentName(t *testing.T) {
	g := scene.New(".")
	component(g, scene.Root, ".chair", math.Identity(), triMesh(false, true))
	component(g, scene.Root, ".table", math.Identity(), triMesh(false, true))

	res := Flatten(g, 256)
	if len(res.Mapping) != 2 {
		t.Fatalf("mapping has %d entries, want 2: %v", len(res.Mapping), res.Mapping)
	}
	for _, name := range []string{".chair", ".table"} {
		if _, ok := res.Mapping[name]; !ok {
			t.Errorf("mapping missing %s", name)
		}
	}
	if _, ok := res.Mapping["geo"]; ok {
		t.Error("mapping should not use the geometry holder name")
	}

	// Grid 2x1: the table's cell starts at x = 0.5.
	tf, _ := res.Mapping.Transform(".table")
	if tf[6] != 0.5 || tf[7] != 0 {
		t.Errorf(".table offset = (%v, %v), want (0.5, 0)", tf[6], tf[7])
	}
}

func TestMeshUnderRootIsUnmapped(t *testing.T) {
	g := scene.New(".")
	g.AttachMesh(scene.Root, triMesh(false, true))
	component(g, scene.Root, ".chair", math.Identity(), triMesh(false, true))

	meshes, tris := scene.Count(g)
	buf := NewBuffers(tris)
	ex := NewExtractor(buf, atlas.NewPackerFor(meshes, 256))
	scene.Walk(g, ex)

	if _, ok := ex.Mapping()[""]; ok {
		t.Errorf("mapping has an empty key: %v", ex.Mapping())
	}
	if _, ok := ex.Mapping()[".chair"]; !ok {
		t.Errorf("mapping missing .chair: %v", ex.Mapping())
	}
	if ex.Unmapped() != 1 || ex.Skipped() != 0 {
		t.Errorf("unmapped = %d, skipped = %d, want 1, 0", ex.Unmapped(), ex.Skipped())
	}
	// The root mesh still gets packed UVs, not the sentinel.
	if u, v := buf.TexCoords[0], buf.TexCoords[1]; u == SentinelUV.X && v == SentinelUV.Y {
		t.Errorf("root mesh uv = (%v, %v), want a packed coordinate", u, v)
	}
}

func TestTexCoordsPackedIntoCell(t *testing.T) {
	g := scene.New(".")
	component(g, scene.Root, ".a", math.Identity(), triMesh(false, true))
	component(g, scene.Root, ".b", math.Identity(), triMesh(false, true))

	res := Flatten(g, 256)
	tex := res.Buffers.TexCoords
	// .b, vertex 1 has global UV (1,0); cell 1 of a 2x1 grid.
	x := tex[6+2]
	if x <= 0.5 || x >= 1 {
		t.Errorf("packed u = %v, want inside (0.5, 1)", x)
	}
	if tex[6+3] != 0 {
		t.Errorf("packed v = %v, want 0", tex[6+3])
	}
}

func TestSentinelUV(t *testing.T) {
	t.Run("no global uvs", func(t *testing.T) {
		g := scene.New(".")
		component(g, scene.Root, ".a", math.Identity(), triMesh(false, false))
		res := Flatten(g, 256)
		for i := 0; i < 3; i++ {
			if res.Buffers.TexCoords[i*2] != 1 || res.Buffers.TexCoords[i*2+1] != 1 {
				t.Errorf("vertex %d uv = %v, want sentinel", i, res.Buffers.TexCoords[i*2:i*2+2])
			}
		}
		if len(res.Mapping) != 1 {
			t.Error("a cell is still reserved for meshes without global UVs")
		}
	})

	t.Run("packer exhausted", func(t *testing.T) {
		g := scene.New(".")
		component(g, scene.Root, ".a", math.Identity(), triMesh(false, true))
		component(g, scene.Root, ".b", math.Identity(), triMesh(false, true))

		_, tris := scene.Count(g)
		ex := NewExtractor(NewBuffers(tris), atlas.NewPacker(1, 1, 64))
		scene.Walk(g, ex)

		if ex.Skipped() != 1 {
			t.Errorf("Skipped() = %d, want 1", ex.Skipped())
		}
		if _, ok := ex.Mapping()[".b"]; ok {
			t.Error("overflow mesh should not be mapped")
		}
		tex := ex.buf.TexCoords
		for i := 6; i < 12; i++ {
			if tex[i] != 1 {
				t.Fatalf("overflow texcoord[%d] = %v, want 1", i, tex[i])
			}
		}
	})

	t.Run("no packer", func(t *testing.T) {
		g := scene.TestScene()
		_, tris := scene.Count(g)
		ex := NewExtractor(NewBuffers(tris), nil)
		scene.Walk(g, ex)
		if len(ex.Mapping()) != 0 {
			t.Error("no packer means no mapping")
		}
	})
}

func TestFlattenTestScene(t *testing.T) {
	res := Flatten(scene.TestScene(), 1024)
	if res.Meshes != 7 || res.Triangles != 14 {
		t.Errorf("counts = %d meshes, %d triangles, want 7, 14", res.Meshes, res.Triangles)
	}
	if res.Columns != 3 || res.Rows != 3 {
		t.Errorf("grid = %dx%d, want 3x3", res.Columns, res.Rows)
	}
	if len(res.Buffers.Positions) != 14*9 || len(res.Buffers.TexCoords) != 14*6 {
		t.Error("buffers are not sized from the triangle count")
	}

	res.Buffers.DropNormals()
	if len(res.Buffers.Normals) != 0 {
		t.Error("DropNormals should empty the normal buffer")
	}
}
