// Package flatten turns a scene graph into world-space triangle buffers and
// records the atlas cell assigned to every mesh-bearing component.
package flatten

import (
	"github.com/Faultbox/aobake/pkg/atlas"
	"github.com/Faultbox/aobake/pkg/math"
	"github.com/Faultbox/aobake/pkg/scene"
)

// SentinelUV is written for vertices that have no atlas cell or no global UVs.
var SentinelUV = math.Vec2{X: 1, Y: 1}

// Buffers holds flat per-vertex data for every triangle of a scene.
// Positions and Normals have 9 floats per triangle, TexCoords 6.
type Buffers struct {
	Positions []float32
	Normals   []float32
	TexCoords []float32
}

// NewBuffers allocates zeroed buffers for triangles triangles.
func NewBuffers(triangles int) *Buffers {
	return &Buffers{
		Positions: make([]float32, triangles*9),
		Normals:   make([]float32, triangles*9),
		TexCoords: make([]float32, triangles*6),
	}
}

// Triangles returns the triangle capacity.
func (b *Buffers) Triangles() int {
	return len(b.Positions) / 9
}

// DropNormals empties the normal buffer so the kernel falls back to face normals.
func (b *Buffers) DropNormals() {
	b.Normals = b.Normals[:0]
}

// Extractor is a scene.Visitor that writes transformed triangles into
// Buffers. It is single use: create one per traversal.
type Extractor struct {
	buf    *Buffers
	packer *atlas.Packer

	tf    math.Mat4
	stack []math.Mat4
	idx   int

	mapping  atlas.Mapping
	skipped  int
	unmapped int
}

// NewExtractor creates an extractor writing into buf. A nil packer disables
// UV packing.
func NewExtractor(buf *Buffers, packer *atlas.Packer) *Extractor {
	return &Extractor{
		buf:     buf,
		packer:  packer,
		tf:      math.Identity(),
		mapping: atlas.Mapping{},
	}
}

// EnterGroup pushes the accumulated transform.
func (e *Extractor) EnterGroup(_ *scene.Graph, grp *scene.Group) {
	e.stack = append(e.stack, e.tf)
	e.tf = e.tf.Mul(grp.Transform)
}

// ExitGroup restores the parent's accumulated transform.
func (e *Extractor) ExitGroup(*scene.Graph, *scene.Group) {
	n := len(e.stack) - 1
	e.tf = e.stack[n]
	e.stack = e.stack[:n]
}

// VisitMesh writes every triangle of m at the shared triangle cursor.
func (e *Extractor) VisitMesh(g *scene.Graph, m *scene.Mesh) {
	var (
		uvTf    math.Mat3
		hasCell bool
	)
	if e.packer != nil {
		uvTf, hasCell = e.packer.Next()
	}
	switch comp := g.Parent(m.Parent); {
	case !hasCell:
		e.skipped++
	case comp == scene.NoNode:
		// Mesh held by the root: the cell is used but no component owns it.
		e.unmapped++
	default:
		e.mapping.Set(g.Name(comp), uvTf)
	}

	for i := range m.Triangles {
		tri := &m.Triangles[i]
		if e.idx >= e.buf.Triangles() {
			return
		}
		pos := e.buf.Positions[e.idx*9 : e.idx*9+9]
		nrm := e.buf.Normals[e.idx*9 : e.idx*9+9]
		tex := e.buf.TexCoords[e.idx*6 : e.idx*6+6]

		for k := 0; k < 3; k++ {
			v := e.tf.TransformPoint(tri.Vertices[k]).Array()
			copy(pos[k*3:k*3+3], v[:])

			if len(tri.Normals) == 3 {
				n := e.tf.TransformDirection(tri.Normals[k])
				if l := n.Length(); l > 0 {
					n = n.Scale(1 / l)
					nrm[k*3], nrm[k*3+1], nrm[k*3+2] = n.X, n.Y, n.Z
				}
			}

			uv := SentinelUV
			if hasCell && len(tri.GlobalUVs) == 3 {
				uv = uvTf.TransformPoint(tri.GlobalUVs[k])
			}
			tex[k*2], tex[k*2+1] = uv.X, uv.Y
		}
		e.idx++
	}
}

// Mapping returns the component path to atlas transform table.
func (e *Extractor) Mapping() atlas.Mapping { return e.mapping }

// Written returns how many triangles have been written.
func (e *Extractor) Written() int { return e.idx }

// Skipped returns how many meshes got no atlas cell.
func (e *Extractor) Skipped() int { return e.skipped }

// Unmapped returns how many meshes got a cell but no mapping entry because
// they hang directly off the root.
func (e *Extractor) Unmapped() int { return e.unmapped }

// Depth returns the current transform stack depth.
func (e *Extractor) Depth() int { return len(e.stack) }

// Accumulated returns the current accumulated transform.
func (e *Extractor) Accumulated() math.Mat4 { return e.tf }

// Result is the output of Flatten.
type Result struct {
	Buffers   *Buffers
	Mapping   atlas.Mapping
	Meshes    int
	Triangles int
	Unmapped  int
	Columns   int
	Rows      int
}

// Flatten counts g, sizes the atlas grid for its meshes and extracts it in
// one traversal.
func Flatten(g *scene.Graph, atlasSize int) *Result {
	meshes, tris := scene.Count(g)
	packer := atlas.NewPackerFor(meshes, atlasSize)
	buf := NewBuffers(tris)

	ex := NewExtractor(buf, packer)
	scene.Walk(g, ex)

	return &Result{
		Buffers:   buf,
		Mapping:   ex.Mapping(),
		Meshes:    meshes,
		Triangles: tris,
		Unmapped:  ex.Unmapped(),
		Columns:   packer.Columns(),
		Rows:      packer.Rows(),
	}
}
