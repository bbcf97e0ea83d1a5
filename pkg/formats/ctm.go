package formats

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/Faultbox/aobake/pkg/math"
	"github.com/Faultbox/aobake/pkg/scene"
)

// OpenCTM container constants. Only the uncompressed RAW method is read.
const (
	ctmMagic      = "OCTM"
	ctmVersion    = 5
	ctmMethodRAW  = "RAW\x00"
	ctmHasNormals = 1

	// Upper bound on element counts so truncated headers fail fast.
	ctmMaxCount = 1 << 26
)

// CTMHeader is the fixed OpenCTM file header.
type CTMHeader struct {
	Version       int32
	Method        string
	VertexCount   int32
	TriangleCount int32
	UVMapCount    int32
	AttrMapCount  int32
	Flags         int32
	Comment       string
}

// HasNormals reports whether the file carries per-vertex normals.
func (h CTMHeader) HasNormals() bool { return h.Flags&ctmHasNormals != 0 }

// DecodeCTMFile decodes an OpenCTM .ctm file.
func DecodeCTMFile(path string) ([]*scene.Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := DecodeCTM(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	return []*scene.Mesh{m}, nil
}

type ctmReader struct {
	r   io.Reader
	err error
}

func (c *ctmReader) read(v any) {
	if c.err == nil {
		c.err = binary.Read(c.r, binary.LittleEndian, v)
	}
}

func (c *ctmReader) tag() string {
	var b [4]byte
	c.read(&b)
	return string(b[:])
}

func (c *ctmReader) expect(tag string) {
	if got := c.tag(); c.err == nil && got != tag {
		c.err = fmt.Errorf("expected %q chunk, got %q", tag, got)
	}
}

func (c *ctmReader) str() string {
	var n int32
	c.read(&n)
	if c.err != nil || n <= 0 {
		return ""
	}
	if n > 1<<20 {
		c.err = fmt.Errorf("string length %d", n)
		return ""
	}
	b := make([]byte, n)
	c.read(b)
	return string(b)
}

func (c *ctmReader) floats(n int) []float32 {
	if c.err != nil {
		return nil
	}
	out := make([]float32, n)
	c.read(out)
	return out
}

// ReadCTMHeader reads the header and leaves r positioned at the body.
func ReadCTMHeader(r io.Reader) (CTMHeader, error) {
	c := &ctmReader{r: r}
	var h CTMHeader

	if magic := c.tag(); c.err == nil && magic != ctmMagic {
		return h, fmt.Errorf("%w: not an OpenCTM file", ErrDecode)
	}
	c.read(&h.Version)
	h.Method = c.tag()
	c.read(&h.VertexCount)
	c.read(&h.TriangleCount)
	c.read(&h.UVMapCount)
	c.read(&h.AttrMapCount)
	c.read(&h.Flags)
	h.Comment = c.str()

	if c.err != nil {
		return h, fmt.Errorf("%w: ctm header: %v", ErrDecode, c.err)
	}
	if h.Version != ctmVersion {
		return h, fmt.Errorf("%w: ctm version %d", ErrDecode, h.Version)
	}
	if h.VertexCount < 0 || h.VertexCount > ctmMaxCount || h.TriangleCount < 0 || h.TriangleCount > ctmMaxCount {
		return h, fmt.Errorf("%w: ctm counts %d/%d", ErrDecode, h.VertexCount, h.TriangleCount)
	}
	return h, nil
}

// DecodeCTM decodes an OpenCTM stream compressed with the RAW method.
// MG1 and MG2 streams are rejected with ErrDecode.
func DecodeCTM(r io.Reader) (*scene.Mesh, error) {
	h, err := ReadCTMHeader(r)
	if err != nil {
		return nil, err
	}
	if h.Method != ctmMethodRAW {
		return nil, fmt.Errorf("%w: ctm method %q is not supported", ErrDecode, trimNul(h.Method))
	}

	c := &ctmReader{r: r}
	nv, nt := int(h.VertexCount), int(h.TriangleCount)

	c.expect("INDX")
	indices := make([]uint32, nt*3)
	c.read(indices)

	c.expect("VERT")
	verts := c.floats(nv * 3)

	var normals []float32
	if h.HasNormals() {
		c.expect("NORM")
		normals = c.floats(nv * 3)
	}

	var uvs []float32
	for i := 0; i < int(h.UVMapCount); i++ {
		c.expect("TEXC")
		c.str() // name
		c.str() // file name
		m := c.floats(nv * 2)
		if i == 0 {
			uvs = m
		}
	}
	// Attribute maps follow; nothing we need lives there.

	if c.err != nil {
		return nil, fmt.Errorf("%w: ctm body: %v", ErrDecode, c.err)
	}

	mesh := scene.NewMesh("ctm")
	for t := 0; t < nt; t++ {
		var idx [3]int
		for k := range 3 {
			i := int(indices[t*3+k])
			if i >= nv {
				return nil, fmt.Errorf("%w: ctm index %d out of range (%d vertices)", ErrDecode, i, nv)
			}
			idx[k] = i
		}

		tri := scene.NewTriangle(vec3At(verts, idx[0]), vec3At(verts, idx[1]), vec3At(verts, idx[2]))
		if normals != nil {
			tri.Normals = []math.Vec3{vec3At(normals, idx[0]), vec3At(normals, idx[1]), vec3At(normals, idx[2])}
		}
		if uvs != nil {
			tri.TexCoords = []math.Vec2{vec2At(uvs, idx[0]), vec2At(uvs, idx[1]), vec2At(uvs, idx[2])}
			tri.GlobalUVs = append([]math.Vec2(nil), tri.TexCoords...)
		}
		mesh.Add(tri)
	}
	return mesh, nil
}

func vec3At(data []float32, i int) math.Vec3 {
	return math.V3(data[i*3], data[i*3+1], data[i*3+2])
}

func vec2At(data []float32, i int) math.Vec2 {
	return math.Vec2{X: data[i*2], Y: data[i*2+1]}
}

func trimNul(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return s[:i]
		}
	}
	return s
}
