package igxc

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `{
	"Objects": [
		{"Path": "."},
		{"Path": ".chair", "Geometry": "g1", "Transform": {"Position": {"X": 1}}},
		{"Path": ".chair.leg", "Geometry": "g2"}
	],
	"Geometries": {"g1": "chair.obj", "g2": "leg.ctm"},
	"Hashes": {"g1": "abc"},
	"Extra": {"keep": true}
}`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(doc.Objects) != 3 {
		t.Fatalf("got %d objects, want 3", len(doc.Objects))
	}
	if doc.Objects[1].Path != ".chair" || doc.Objects[1].Geometry != "g1" {
		t.Errorf("unexpected object %+v", doc.Objects[1])
	}
	if doc.Objects[1].Transform == nil || doc.Objects[1].Transform.Position == nil {
		t.Error("transform not decoded")
	}
	if doc.Geometries["g2"] != "leg.ctm" {
		t.Errorf("Geometries = %v", doc.Geometries)
	}
	if doc.BasePath != "" {
		t.Errorf("BasePath = %q, want empty", doc.BasePath)
	}
}

func TestParseSchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		key  string
	}{
		{"missing objects", `{"Geometries": {}}`, "Objects"},
		{"missing geometries", `{"Objects": []}`, "Geometries"},
		{"null document", `null`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse([]byte(tt.src))
			if !errors.Is(err, ErrSchema) {
				t.Fatalf("got %v, want ErrSchema", err)
			}
			if tt.key != "" && (doc == nil || doc.Raw() == nil) {
				t.Errorf("raw document not kept for a missing %s", tt.key)
			}
			if tt.key != "" && !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not name %s", err, tt.key)
			}
		})
	}
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{"Objects": [`))
	if err == nil || errors.Is(err, ErrSchema) {
		t.Errorf("got %v, want a non-schema decode error", err)
	}
}

func TestFromValue(t *testing.T) {
	var v any
	if err := json.Unmarshal([]byte(sample), &v); err != nil {
		t.Fatal(err)
	}

	doc, err := FromValue(v)
	if err != nil {
		t.Fatalf("FromValue(object): %v", err)
	}
	if len(doc.Objects) != 3 {
		t.Errorf("got %d objects, want 3", len(doc.Objects))
	}

	doc, err = FromValue(sample)
	if err != nil {
		t.Fatalf("FromValue(string): %v", err)
	}
	if len(doc.Geometries) != 2 {
		t.Errorf("got %d geometries, want 2", len(doc.Geometries))
	}
}

func TestAnnotateKeepsUnknownFields(t *testing.T) {
	doc, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}

	tf := [9]float32{0.5, 0, 0, 0, 0.5, 0, 0, 0.5, 1}
	doc.Annotate("AO_x.png", map[string][9]float32{".chair": tf})

	path := filepath.Join(t.TempDir(), "out.igxc")
	if err := doc.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var out struct {
		Objects []struct {
			Path        string
			AOTransform []float32
		}
		ObjectAmbientOcclusionMaps map[string]string
		Extra                      map[string]bool
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("re-reading annotated document: %v", err)
	}

	if out.ObjectAmbientOcclusionMaps["."] != "AO_x.png" {
		t.Errorf("ObjectAmbientOcclusionMaps = %v", out.ObjectAmbientOcclusionMaps)
	}
	if !out.Extra["keep"] {
		t.Error("unknown field was dropped")
	}
	for _, o := range out.Objects {
		switch o.Path {
		case ".chair":
			if len(o.AOTransform) != 9 || o.AOTransform[7] != 0.5 {
				t.Errorf(".chair AOTransform = %v", o.AOTransform)
			}
		default:
			if o.AOTransform != nil {
				t.Errorf("%s should not be annotated", o.Path)
			}
		}
	}
}

func TestCacheKey(t *testing.T) {
	a, _ := Parse([]byte(sample))
	b, _ := Parse([]byte(sample))

	ka := a.CacheKey(1024, "")
	if !strings.HasPrefix(ka, "AO_") || len(ka) != 3+32 {
		t.Fatalf("unexpected key %q", ka)
	}
	if ka != b.CacheKey(1024, "") {
		t.Error("identical documents should share a key")
	}
	if ka == a.CacheKey(512, "") {
		t.Error("resolution should change the key")
	}

	// Different unrelated fields do not matter.
	c, _ := Parse([]byte(strings.Replace(sample, `"keep": true`, `"keep": false`, 1)))
	if ka != c.CacheKey(1024, "") {
		t.Error("fields outside Objects and Hashes should not change the key")
	}

	empty, _ := Parse([]byte(`{"Objects": null, "Geometries": {}}`))
	if empty.CacheKey(1024, "http://x/scene") != OutputName("http://x/scene", 1024) {
		t.Error("fallback seed should be used when Objects and Hashes are absent")
	}
}
