// Package igxc reads and annotates IGXC scene documents.
//
// A document is a JSON object with an ordered list of components under
// "Objects" and a geometry table under "Geometries". The raw object is kept
// alongside the typed view so an annotated copy can be written back without
// dropping fields this package does not know about.
package igxc

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrSchema is returned when a document lacks a required top-level key.
var ErrSchema = errors.New("igxc: schema error")

// Document is a parsed scene document.
type Document struct {
	Objects    []Object
	Geometries map[string]string

	// BasePath overrides the caller's base path when set.
	BasePath string

	raw map[string]any
}

// Object is one component descriptor.
type Object struct {
	Path      string     `json:"Path"`
	Transform *Transform `json:"Transform,omitempty"`
	Geometry  string     `json:"Geometry,omitempty"`
}

type typedView struct {
	Objects    []Object          `json:"Objects"`
	Geometries map[string]string `json:"Geometries"`
	BasePath   string            `json:"BasePath"`
}

// Parse decodes a document and checks the required keys. When a key is
// missing the error wraps ErrSchema and the returned document still holds
// the raw object, so it can be persisted, keyed and reported on.
func Parse(data []byte) (*Document, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding igxc: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: document is not an object", ErrSchema)
	}
	for _, key := range []string{"Objects", "Geometries"} {
		if _, ok := raw[key]; !ok {
			return &Document{raw: raw}, fmt.Errorf("%w: '%s' not in igxc", ErrSchema, key)
		}
	}

	var view typedView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("decoding igxc components: %w", err)
	}

	return &Document{
		Objects:    view.Objects,
		Geometries: view.Geometries,
		BasePath:   view.BasePath,
		raw:        raw,
	}, nil
}

// FromValue builds a document from an already decoded JSON value, such as
// an inline request body.
func FromValue(v any) (*Document, error) {
	if s, ok := v.(string); ok {
		return Parse([]byte(s))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding inline igxc: %w", err)
	}
	return Parse(data)
}

// ReadFile parses the document at path.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Raw returns the underlying JSON object including annotations.
func (d *Document) Raw() map[string]any {
	return d.raw
}

// MarshalJSON emits the raw document.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.raw)
}

// WriteFile writes the raw document as indented JSON.
func (d *Document) WriteFile(path string) error {
	data, err := json.MarshalIndent(d.raw, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding igxc: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Annotate records the AO map image for the whole scene and attaches the
// atlas transform of every component present in mapping.
func (d *Document) Annotate(image string, mapping map[string][9]float32) {
	d.raw["ObjectAmbientOcclusionMaps"] = map[string]any{".": image}

	objects, _ := d.raw["Objects"].([]any)
	for _, o := range objects {
		obj, ok := o.(map[string]any)
		if !ok {
			continue
		}
		path, _ := obj["Path"].(string)
		if tf, ok := mapping[path]; ok {
			obj["AOTransform"] = tf[:]
		}
	}
}

// CacheKey names the outputs of a bake. It hashes the canonical JSON of the
// components and content hashes together with the resolution, so identical
// scenes baked at the same resolution share results. fallback is hashed
// instead when the document carries neither.
func (d *Document) CacheKey(resolution int, fallback string) string {
	var base bytes.Buffer
	for _, key := range []string{"Objects", "Hashes"} {
		v, ok := d.raw[key]
		if !ok || v == nil {
			continue
		}
		// encoding/json sorts map keys.
		if data, err := json.Marshal(v); err == nil {
			base.Write(data)
		}
	}
	if base.Len() == 0 {
		base.WriteString(fallback)
	}
	return OutputName(base.String(), resolution)
}

// OutputName derives the "AO_<md5>" base name for seed and resolution.
func OutputName(seed string, resolution int) string {
	sum := md5.Sum([]byte(seed + strconv.Itoa(resolution)))
	return "AO_" + hex.EncodeToString(sum[:])
}
