package formats

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Faultbox/aobake/pkg/math"
	"github.com/Faultbox/aobake/pkg/scene"
)

// objParser holds the attribute pools of a Wavefront file. Faces reference
// pools with 1-based indices; negative indices count back from the end.
type objParser struct {
	vertices  []math.Vec3
	normals   []math.Vec3
	texcoords []math.Vec2

	meshes  []*scene.Mesh
	current *scene.Mesh
	line    int
}

// DecodeOBJFile decodes a Wavefront .obj file.
func DecodeOBJFile(path string) ([]*scene.Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeOBJ(f)
}

// DecodeOBJ decodes Wavefront data. Each "o" or "g" statement starts a new
// mesh; faces before the first one go into "unnamed mesh". Polygons with
// more than three corners are fanned into triangles.
func DecodeOBJ(r io.Reader) ([]*scene.Mesh, error) {
	p := &objParser{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		p.line++
		if err := p.parseLine(sc.Text()); err != nil {
			return nil, fmt.Errorf("%w: obj line %d: %v", ErrDecode, p.line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return p.meshes, nil
}

func (p *objParser) parseLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}

	switch fields[0] {
	case "v":
		v, err := parseFloats(fields[1:], 3)
		if err != nil {
			return err
		}
		p.vertices = append(p.vertices, math.V3(v[0], v[1], v[2]))
	case "vn":
		v, err := parseFloats(fields[1:], 3)
		if err != nil {
			return err
		}
		p.normals = append(p.normals, math.V3(v[0], v[1], v[2]))
	case "vt":
		v, err := parseFloats(fields[1:], 2)
		if err != nil {
			return err
		}
		p.texcoords = append(p.texcoords, math.Vec2{X: v[0], Y: v[1]})
	case "o", "g":
		name := "unnamed mesh"
		if len(fields) > 1 {
			name = fields[1]
		}
		p.startMesh(name)
	case "f":
		return p.parseFace(fields[1:])
	}
	// mtllib, usemtl, s and friends carry nothing we bake.
	return nil
}

func (p *objParser) startMesh(name string) {
	p.current = scene.NewMesh(name)
	p.meshes = append(p.meshes, p.current)
}

type objCorner struct {
	v  math.Vec3
	vt math.Vec2
	vn math.Vec3

	hasTex, hasNormal bool
}

// parseFace parses f v1[/vt1][/vn1] v2[/vt2][/vn2] v3[/vt3][/vn3] ...
func (p *objParser) parseFace(fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("face with %d corners", len(fields))
	}
	if p.current == nil {
		p.startMesh("unnamed mesh")
	}

	corners := make([]objCorner, len(fields))
	for i, f := range fields {
		c, err := p.corner(f)
		if err != nil {
			return err
		}
		corners[i] = c
	}

	for i := 1; i+1 < len(corners); i++ {
		p.current.Add(objTriangle(corners[0], corners[i], corners[i+1]))
	}
	return nil
}

func (p *objParser) corner(field string) (objCorner, error) {
	var c objCorner
	parts := strings.Split(field, "/")

	vi, err := resolveIndex(parts[0], len(p.vertices))
	if err != nil {
		return c, fmt.Errorf("vertex index %q: %w", parts[0], err)
	}
	c.v = p.vertices[vi]

	if len(parts) > 1 && parts[1] != "" {
		ti, err := resolveIndex(parts[1], len(p.texcoords))
		if err != nil {
			return c, fmt.Errorf("texcoord index %q: %w", parts[1], err)
		}
		c.vt, c.hasTex = p.texcoords[ti], true
	}
	if len(parts) > 2 && parts[2] != "" {
		ni, err := resolveIndex(parts[2], len(p.normals))
		if err != nil {
			return c, fmt.Errorf("normal index %q: %w", parts[2], err)
		}
		c.vn, c.hasNormal = p.normals[ni], true
	}
	return c, nil
}

// objTriangle builds a triangle. An attribute is only set when all three
// corners carry it.
func objTriangle(a, b, c objCorner) scene.Triangle {
	tri := scene.NewTriangle(a.v, b.v, c.v)
	if a.hasNormal && b.hasNormal && c.hasNormal {
		tri.Normals = []math.Vec3{a.vn, b.vn, c.vn}
	}
	if a.hasTex && b.hasTex && c.hasTex {
		tri.TexCoords = []math.Vec2{a.vt, b.vt, c.vt}
		tri.GlobalUVs = []math.Vec2{a.vt, b.vt, c.vt}
	}
	return tri
}

func resolveIndex(s string, n int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	switch {
	case i > 0:
		i--
	case i < 0:
		i += n
	default:
		return 0, fmt.Errorf("index 0 is invalid")
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("out of range (have %d)", n)
	}
	return i, nil
}

func parseFloats(fields []string, n int) ([]float32, error) {
	if len(fields) < n {
		return nil, fmt.Errorf("need %d values, got %d", n, len(fields))
	}
	out := make([]float32, n)
	for i := range n {
		v, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(v)
	}
	return out, nil
}
