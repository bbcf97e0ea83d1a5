// Package atlas assigns mesh instances to cells of a shared texture atlas.
package atlas

import (
	gomath "math"

	"github.com/Faultbox/aobake/pkg/math"
)

// Grid returns the column/row split used for n meshes: columns = ceil(sqrt(n)),
// rows = ceil(n / columns). Capacity is always >= n. Zero meshes yield 0x0.
func Grid(n int) (columns, rows int) {
	if n <= 0 {
		return 0, 0
	}
	columns = int(gomath.Ceil(gomath.Sqrt(float64(n))))
	rows = (n + columns - 1) / columns
	return columns, rows
}

// Packer issues atlas cells in row-major order.
type Packer struct {
	columns int
	rows    int
	next    int

	paddedScaling float32
}

// NewPacker creates a packer for a columns x rows grid on an atlas of
// pixelSize pixels per side.
func NewPacker(columns, rows, pixelSize int) *Packer {
	p := &Packer{columns: columns, rows: rows, paddedScaling: 1}
	longest := max(columns, rows)
	if longest > 0 && pixelSize > 0 {
		tileSize := float32(pixelSize) / float32(longest)
		p.paddedScaling = (tileSize - 1) / tileSize
	}
	return p
}

// NewPackerFor creates a packer sized for meshCount meshes.
func NewPackerFor(meshCount, pixelSize int) *Packer {
	c, r := Grid(meshCount)
	return NewPacker(c, r, pixelSize)
}

// Columns returns the number of grid columns.
func (p *Packer) Columns() int { return p.columns }

// Rows returns the number of grid rows.
func (p *Packer) Rows() int { return p.rows }

// Issued returns how many cells have been handed out.
func (p *Packer) Issued() int { return p.next }

// PaddedScaling returns the uniform shrink applied inside each cell.
func (p *Packer) PaddedScaling() float32 { return p.paddedScaling }

// Next returns the transform of the next unused cell and advances the cursor.
// ok is false once every cell has been issued; that is not an error, and tf
// is the identity.
func (p *Packer) Next() (tf math.Mat3, ok bool) {
	if p.next >= p.columns*p.rows {
		return math.Identity3(), false
	}
	y := p.next / p.columns
	x := p.next % p.columns
	p.next++

	return math.ScaleTranslate2D(
		p.paddedScaling/float32(p.columns),
		p.paddedScaling/float32(p.rows),
		float32(x)/float32(p.columns),
		float32(y)/float32(p.rows),
	), true
}
