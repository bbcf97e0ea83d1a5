package math

import "github.com/chewxy/math32"

// Mat3 is a 3x3 homogeneous 2D affine matrix in column-major order,
// the same layout as Mat4: element (row, col) is m[col*3+row].
type Mat3 [9]float32

// Identity3 returns the 3x3 identity matrix.
func Identity3() Mat3 {
	return Mat3{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

// ScaleTranslate2D returns a matrix that scales by (sx, sy) and then
// translates by (tx, ty).
func ScaleTranslate2D(sx, sy, tx, ty float32) Mat3 {
	return Mat3{
		sx, 0, 0,
		0, sy, 0,
		tx, ty, 1,
	}
}

// Mul multiplies this matrix by another (m * other).
func (m Mat3) Mul(other Mat3) Mat3 {
	var result Mat3
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			result[col*3+row] =
				m[0*3+row]*other[col*3+0] +
					m[1*3+row]*other[col*3+1] +
					m[2*3+row]*other[col*3+2]
		}
	}
	return result
}

// TransformPoint applies the matrix to a 2D point (w=1) and divides by w.
func (m Mat3) TransformPoint(p Vec2) Vec2 {
	x := m[0]*p.X + m[3]*p.Y + m[6]
	y := m[1]*p.X + m[4]*p.Y + m[7]
	w := m[2]*p.X + m[5]*p.Y + m[8]
	if w != 0 && w != 1 {
		return Vec2{x / w, y / w}
	}
	return Vec2{x, y}
}

// ApproxEqual reports whether every element differs by at most eps.
func (m Mat3) ApproxEqual(other Mat3, eps float32) bool {
	for i := range m {
		if math32.Abs(m[i]-other[i]) > eps {
			return false
		}
	}
	return true
}
