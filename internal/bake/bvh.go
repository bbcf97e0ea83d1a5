package bake

import (
	"sort"

	"github.com/chewxy/math32"

	"github.com/Faultbox/aobake/pkg/math"
)

const leafSize = 4

// box is an axis-aligned bounding box.
type box struct {
	min, max math.Vec3
}

func emptyBox() box {
	inf := math32.Inf(1)
	return box{min: math.V3(inf, inf, inf), max: math.V3(-inf, -inf, -inf)}
}

func (b box) extend(p math.Vec3) box {
	return box{min: b.min.Min(p), max: b.max.Max(p)}
}

func (b box) union(o box) box {
	return box{min: b.min.Min(o.min), max: b.max.Max(o.max)}
}

func (b box) diagonal() float32 {
	if b.max.X < b.min.X {
		return 0
	}
	return b.max.Sub(b.min).Length()
}

// longestAxis returns 0, 1 or 2.
func (b box) longestAxis() int {
	d := b.max.Sub(b.min)
	switch {
	case d.X >= d.Y && d.X >= d.Z:
		return 0
	case d.Y >= d.Z:
		return 1
	default:
		return 2
	}
}

// hit reports whether the ray enters the box before tMax.
func (b box) hit(origin, invDir math.Vec3, tMax float32) bool {
	tmin, tmax := float32(0), tMax
	for a := 0; a < 3; a++ {
		t0 := (b.min.Axis(a) - origin.Axis(a)) * invDir.Axis(a)
		t1 := (b.max.Axis(a) - origin.Axis(a)) * invDir.Axis(a)
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tmin = max(tmin, t0)
		tmax = min(tmax, t1)
		if tmax < tmin {
			return false
		}
	}
	return true
}

type triangle struct {
	v0, e1, e2 math.Vec3
	bounds     box
	centroid   math.Vec3
}

func newTriangle(a, b, c math.Vec3) triangle {
	bb := emptyBox().extend(a).extend(b).extend(c)
	return triangle{
		v0:       a,
		e1:       b.Sub(a),
		e2:       c.Sub(a),
		bounds:   bb,
		centroid: a.Add(b).Add(c).Scale(1.0 / 3),
	}
}

// intersect is the Möller-Trumbore test. It reports hits in (tMin, tMax).
func (t *triangle) intersect(origin, dir math.Vec3, tMin, tMax float32) bool {
	const eps = 1e-9
	p := dir.Cross(t.e2)
	det := t.e1.Dot(p)
	if det > -eps && det < eps {
		return false
	}
	inv := 1 / det
	s := origin.Sub(t.v0)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return false
	}
	q := s.Cross(t.e1)
	v := dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return false
	}
	d := t.e2.Dot(q) * inv
	return d > tMin && d < tMax
}

type bvhNode struct {
	bounds      box
	left, right int32 // child indices, -1 on leaves
	start, end  int32 // triangle range on leaves
}

// bvh is a median-split bounding volume hierarchy used for occlusion rays.
type bvh struct {
	tris  []triangle
	nodes []bvhNode
}

func buildBVH(tris []triangle) *bvh {
	b := &bvh{tris: tris}
	if len(tris) > 0 {
		b.build(0, len(tris))
	}
	return b
}

func (b *bvh) build(start, end int) int32 {
	bounds := emptyBox()
	for i := start; i < end; i++ {
		bounds = bounds.union(b.tris[i].bounds)
	}

	idx := int32(len(b.nodes))
	b.nodes = append(b.nodes, bvhNode{bounds: bounds, left: -1, right: -1, start: int32(start), end: int32(end)})
	if end-start <= leafSize {
		return idx
	}

	axis := bounds.longestAxis()
	span := b.tris[start:end]
	sort.Slice(span, func(i, j int) bool {
		return span[i].centroid.Axis(axis) < span[j].centroid.Axis(axis)
	})
	mid := start + (end-start)/2

	left := b.build(start, mid)
	right := b.build(mid, end)
	b.nodes[idx].left, b.nodes[idx].right = left, right
	return idx
}

// bounds returns the scene bounds.
func (b *bvh) bounds() box {
	if len(b.nodes) == 0 {
		return emptyBox()
	}
	return b.nodes[0].bounds
}

// occluded reports whether any triangle is hit within (tMin, tMax).
func (b *bvh) occluded(origin, dir math.Vec3, tMin, tMax float32, stack []int32) bool {
	if len(b.nodes) == 0 {
		return false
	}
	invDir := math.V3(1/dir.X, 1/dir.Y, 1/dir.Z)

	stack = append(stack[:0], 0)
	for len(stack) > 0 {
		n := &b.nodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]

		if !n.bounds.hit(origin, invDir, tMax) {
			continue
		}
		if n.left < 0 {
			for i := n.start; i < n.end; i++ {
				if b.tris[i].intersect(origin, dir, tMin, tMax) {
					return true
				}
			}
			continue
		}
		stack = append(stack, n.left, n.right)
	}
	return false
}
