// Package formats decodes mesh files into scene meshes.
//
// Decoders are selected by lowercase file suffix. Every decoder fills both
// TexCoords and GlobalUVs of a triangle from the file's first UV set.
package formats

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Faultbox/aobake/pkg/scene"
)

// ErrDecode is returned for malformed or unsupported geometry files.
var ErrDecode = errors.New("formats: decode error")

// Decoder reads one geometry file. It must not touch anything outside the
// meshes it returns.
type Decoder interface {
	Decode(path string) ([]*scene.Mesh, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(path string) ([]*scene.Mesh, error)

// Decode calls f(path).
func (f DecoderFunc) Decode(path string) ([]*scene.Mesh, error) { return f(path) }

// Registry maps file suffixes (".obj") to decoders.
type Registry map[string]Decoder

// Default returns a registry with every built-in decoder.
func Default() Registry {
	return Registry{
		".obj":  DecoderFunc(DecodeOBJFile),
		".ctm":  DecoderFunc(DecodeCTMFile),
		".gltf": DecoderFunc(DecodeGLTFFile),
		".glb":  DecoderFunc(DecodeGLTFFile),
	}
}

// Suffixes returns the registered suffixes in sorted order.
func (r Registry) Suffixes() []string {
	out := make([]string, 0, len(r))
	for s := range r {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// DecodeFile decodes path with the decoder registered for its suffix.
func (r Registry) DecodeFile(path string) ([]*scene.Mesh, error) {
	ext := strings.ToLower(filepath.Ext(path))
	dec, ok := r[ext]
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for %q (%s)", ErrDecode, ext, filepath.Base(path))
	}
	meshes, err := dec.Decode(path)
	if err != nil && !errors.Is(err, ErrDecode) {
		err = fmt.Errorf("%w: %s: %w", ErrDecode, filepath.Base(path), err)
	}
	return meshes, err
}
