package atlas

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Faultbox/aobake/pkg/math"
)

// Mapping maps a component path to the flattened atlas transform of its
// mesh. Entries are the 3x3 matrix in column-major order:
// [sx, 0, 0, 0, sy, 0, ox, oy, 1].
type Mapping map[string][9]float32

// Set records tf for owner.
func (m Mapping) Set(owner string, tf math.Mat3) {
	m[owner] = [9]float32(tf)
}

// Transform returns the entry for owner as a matrix.
func (m Mapping) Transform(owner string) (math.Mat3, bool) {
	v, ok := m[owner]
	return math.Mat3(v), ok
}

// Encode writes the mapping as indented JSON with sorted keys.
func (m Mapping) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(m)
}

// WriteFile persists the mapping to path.
func (m Mapping) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.Encode(f); err != nil {
		f.Close()
		return fmt.Errorf("encoding mapping: %w", err)
	}
	return f.Close()
}

// DecodeMapping reads a mapping written by Encode.
func DecodeMapping(r io.Reader) (Mapping, error) {
	m := Mapping{}
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding mapping: %w", err)
	}
	return m, nil
}

// ReadMappingFile loads a mapping from path.
func ReadMappingFile(path string) (Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeMapping(f)
}
