package bake

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/aobake/pkg/flatten"
	"github.com/Faultbox/aobake/pkg/math"
)

// texel records which triangle covers a texel center and where.
type texel struct {
	tri        int32 // -1 when uncovered
	b0, b1, b2 float32
}

// barycentric returns the weights of (px, py) against the triangle
// (x0,y0) (x1,y1) (x2,y2). ok is false for degenerate triangles.
func barycentric(x0, y0, x1, y1, x2, y2, px, py float32) (w0, w1, w2 float32, ok bool) {
	denom := (y1-y2)*(x0-x2) + (x2-x1)*(y0-y2)
	if math32.Abs(denom) < 1e-12 {
		return 0, 0, 0, false
	}
	w0 = ((y1-y2)*(px-x2) + (x2-x1)*(py-y2)) / denom
	w1 = ((y2-y0)*(px-x2) + (x0-x2)*(py-y2)) / denom
	w2 = 1 - w0 - w1
	return w0, w1, w2, true
}

func isSentinel(u, v float32) bool {
	return u == flatten.SentinelUV.X && v == flatten.SentinelUV.Y
}

// rasterize assigns texels of a res x res grid to the triangles whose UVs
// cover their centers. Triangles are visited in order and the first one to
// claim a texel keeps it. Triangles with sentinel UVs are skipped.
func rasterize(uvs []float32, tris, res int) (texels []texel, covered int) {
	texels = make([]texel, res*res)
	for i := range texels {
		texels[i].tri = -1
	}

	const eps = -1e-5
	fres := float32(res)
	for t := 0; t < tris; t++ {
		uv := uvs[t*6 : t*6+6]
		if isSentinel(uv[0], uv[1]) && isSentinel(uv[2], uv[3]) && isSentinel(uv[4], uv[5]) {
			continue
		}

		x0, y0 := uv[0]*fres, uv[1]*fres
		x1, y1 := uv[2]*fres, uv[3]*fres
		x2, y2 := uv[4]*fres, uv[5]*fres
		if _, _, _, ok := barycentric(x0, y0, x1, y1, x2, y2, x0, y0); !ok {
			continue
		}

		minX := clampi(int(math32.Floor(min(x0, x1, x2))), 0, res-1)
		maxX := clampi(int(math32.Ceil(max(x0, x1, x2))), 0, res-1)
		minY := clampi(int(math32.Floor(min(y0, y1, y2))), 0, res-1)
		maxY := clampi(int(math32.Ceil(max(y0, y1, y2))), 0, res-1)

		for y := minY; y <= maxY; y++ {
			py := float32(y) + 0.5
			for x := minX; x <= maxX; x++ {
				tx := &texels[y*res+x]
				if tx.tri >= 0 {
					continue
				}
				px := float32(x) + 0.5
				w0, w1, w2, _ := barycentric(x0, y0, x1, y1, x2, y2, px, py)
				if w0 < eps || w1 < eps || w2 < eps {
					continue
				}
				*tx = texel{tri: int32(t), b0: w0, b1: w1, b2: w2}
				covered++
			}
		}
	}
	return texels, covered
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// interpolate returns the barycentric blend of the three vec3 records of
// triangle t in data.
func interpolate(data []float32, t int, b0, b1, b2 float32) math.Vec3 {
	d := data[t*9 : t*9+9]
	return math.V3(
		d[0]*b0+d[3]*b1+d[6]*b2,
		d[1]*b0+d[4]*b1+d[7]*b2,
		d[2]*b0+d[5]*b1+d[8]*b2,
	)
}
