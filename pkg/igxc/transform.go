package igxc

import (
	"github.com/Faultbox/aobake/pkg/math"
)

// QuaternionThreshold is the largest W for which a rotation is read as a
// unit quaternion. Larger values, or a missing W, select Euler degrees.
const QuaternionThreshold = 1.000001

// Transform is a position/rotation/scale descriptor. Every part is optional.
type Transform struct {
	Position *Vector   `json:"Position,omitempty"`
	Rotation *Rotation `json:"Rotation,omitempty"`
	Scale    *Vector   `json:"Scale,omitempty"`
}

// Vector is a 3-component value whose axes may be omitted.
type Vector struct {
	X *float64 `json:"X,omitempty"`
	Y *float64 `json:"Y,omitempty"`
	Z *float64 `json:"Z,omitempty"`
}

// Rotation is either Euler angles in degrees or a quaternion with W.
type Rotation struct {
	X float64  `json:"X"`
	Y float64  `json:"Y"`
	Z float64  `json:"Z"`
	W *float64 `json:"W,omitempty"`
}

// IsQuaternion reports whether r is interpreted as a quaternion.
func (r *Rotation) IsQuaternion() bool {
	return r.W != nil && *r.W <= QuaternionThreshold
}

func (v *Vector) components(def float64) (x, y, z float32) {
	get := func(p *float64) float32 {
		if p == nil {
			return float32(def)
		}
		return float32(*p)
	}
	return get(v.X), get(v.Y), get(v.Z)
}

// Matrix resolves the descriptor into one local-to-parent matrix composed as
// Translation * Rotation * Scale. A nil descriptor is the identity.
func (t *Transform) Matrix() math.Mat4 {
	m := math.Identity()
	if t == nil {
		return m
	}

	if t.Position != nil {
		m = m.Mul(math.Translate(t.Position.components(0)))
	}
	if t.Rotation != nil {
		m = m.Mul(t.Rotation.Matrix())
	}
	if t.Scale != nil {
		m = m.Mul(math.Scale(t.Scale.components(1)))
	}
	return m
}

// Matrix returns the rotation matrix. Euler angles compose as Rz * Ry * Rx.
func (r *Rotation) Matrix() math.Mat4 {
	if r.IsQuaternion() {
		q := math.Quat{X: float32(r.X), Y: float32(r.Y), Z: float32(r.Z), W: float32(*r.W)}
		return q.ToMat4()
	}
	rx := math.RotateX(math.Radians(float32(r.X)))
	ry := math.RotateY(math.Radians(float32(r.Y)))
	rz := math.RotateZ(math.Radians(float32(r.Z)))
	return rz.Mul(ry).Mul(rx)
}
