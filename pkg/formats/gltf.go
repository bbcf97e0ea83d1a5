package formats

import (
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Faultbox/aobake/pkg/math"
	"github.com/Faultbox/aobake/pkg/scene"
)

// DecodeGLTFFile decodes a .gltf or .glb file. Each glTF mesh becomes one
// scene mesh holding the triangles of all its triangle-list primitives.
// Node transforms are ignored; placement comes from the scene document.
func DecodeGLTFFile(path string) ([]*scene.Mesh, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open gltf: %v", ErrDecode, err)
	}
	return DecodeGLTF(doc)
}

// DecodeGLTF converts the meshes of an already opened document.
func DecodeGLTF(doc *gltf.Document) ([]*scene.Mesh, error) {
	var out []*scene.Mesh
	for i, m := range doc.Meshes {
		name := m.Name
		if name == "" {
			name = fmt.Sprintf("mesh%d", i)
		}
		mesh := scene.NewMesh(name)
		for _, prim := range m.Primitives {
			if err := appendPrimitive(doc, prim, mesh); err != nil {
				return nil, fmt.Errorf("%w: mesh %q: %v", ErrDecode, name, err)
			}
		}
		out = append(out, mesh)
	}
	return out, nil
}

func appendPrimitive(doc *gltf.Document, prim *gltf.Primitive, mesh *scene.Mesh) error {
	if prim.Mode != gltf.PrimitiveTriangles {
		// Lines and points have no surface to occlude.
		return nil
	}
	posIdx, ok := prim.Attributes[gltf.POSITION]
	if !ok {
		return nil
	}

	positions, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
	if err != nil {
		return fmt.Errorf("read positions: %w", err)
	}

	var normals [][3]float32
	if idx, ok := prim.Attributes[gltf.NORMAL]; ok {
		if normals, err = modeler.ReadNormal(doc, doc.Accessors[idx], nil); err != nil {
			return fmt.Errorf("read normals: %w", err)
		}
	}

	var uvs [][2]float32
	if idx, ok := prim.Attributes[gltf.TEXCOORD_0]; ok {
		if uvs, err = modeler.ReadTextureCoord(doc, doc.Accessors[idx], nil); err != nil {
			return fmt.Errorf("read uvs: %w", err)
		}
	}

	var indices []uint32
	if prim.Indices != nil {
		if indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil); err != nil {
			return fmt.Errorf("read indices: %w", err)
		}
	} else {
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}

	for t := 0; t+2 < len(indices); t += 3 {
		idx := [3]int{int(indices[t]), int(indices[t+1]), int(indices[t+2])}
		for _, i := range idx {
			if i >= len(positions) {
				return fmt.Errorf("index %d out of range (%d vertices)", i, len(positions))
			}
		}

		tri := scene.NewTriangle(toVec3(positions[idx[0]]), toVec3(positions[idx[1]]), toVec3(positions[idx[2]]))
		if len(normals) == len(positions) {
			tri.Normals = []math.Vec3{toVec3(normals[idx[0]]), toVec3(normals[idx[1]]), toVec3(normals[idx[2]])}
		}
		if len(uvs) == len(positions) {
			tri.TexCoords = []math.Vec2{toVec2(uvs[idx[0]]), toVec2(uvs[idx[1]]), toVec2(uvs[idx[2]])}
			tri.GlobalUVs = append([]math.Vec2(nil), tri.TexCoords...)
		}
		mesh.Add(tri)
	}
	return nil
}

func toVec3(v [3]float32) math.Vec3 { return math.V3(v[0], v[1], v[2]) }

func toVec2(v [2]float32) math.Vec2 { return math.Vec2{X: v[0], Y: v[1]} }
