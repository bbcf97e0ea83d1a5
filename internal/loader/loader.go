// Package loader builds a scene graph from an IGXC document.
package loader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/aobake/internal/logger"
	"github.com/Faultbox/aobake/pkg/formats"
	"github.com/Faultbox/aobake/pkg/igxc"
	"github.com/Faultbox/aobake/pkg/scene"
)

// ErrResource is returned when a referenced file cannot be resolved.
var ErrResource = errors.New("loader: resource error")

// Fetcher downloads a locator into a local file. remote.Cache implements it.
type Fetcher interface {
	Fetch(ctx context.Context, locator, suffix string) (string, error)
}

// Decoder decodes a geometry file selected by suffix. formats.Registry
// implements it.
type Decoder interface {
	DecodeFile(path string) ([]*scene.Mesh, error)
}

// Stats describes one load. DecodeErrors collects every geometry that
// degraded to "no geometry"; it does not fail the load.
type Stats struct {
	Files        int
	Components   int
	Meshes       int
	DecodeErrors error
}

// Loader resolves geometry references and builds the component hierarchy.
type Loader struct {
	decoder Decoder
	fetcher Fetcher
}

// New creates a loader. fetcher may be nil, which turns every remote
// reference into an ErrResource.
func New(decoder Decoder, fetcher Fetcher) *Loader {
	if decoder == nil {
		decoder = formats.Default()
	}
	return &Loader{decoder: decoder, fetcher: fetcher}
}

type decoded struct {
	meshes []*scene.Mesh
	err    error
}

// Load builds the scene for doc. basePath is a local directory or an
// http(s) origin; a BasePath in the document takes precedence.
func (l *Loader) Load(ctx context.Context, doc *igxc.Document, basePath string) (*scene.Graph, *Stats, error) {
	log := logger.Named("loader")
	if doc.BasePath != "" {
		basePath = doc.BasePath
	}

	files, err := l.resolveGeometries(ctx, doc.Geometries, basePath)
	if err != nil {
		return nil, nil, err
	}
	stats := &Stats{Files: len(files)}
	log.Info("files referenced", zap.Int("count", len(files)), zap.String("base", basePath))

	g := scene.New(".")
	groups := map[string]scene.NodeID{".": scene.Root}
	cache := map[string]decoded{}

	for _, obj := range doc.Objects {
		comp := l.component(g, groups, obj.Path)
		g.Group(comp).Transform = obj.Transform.Matrix()
		stats.Components++

		if obj.Geometry == "" {
			continue
		}
		file, ok := files[obj.Geometry]
		if !ok {
			log.Warn("geometry not found", zap.String("path", obj.Path), zap.String("geometry", obj.Geometry))
			continue
		}

		d, seen := cache[file]
		if !seen {
			d.meshes, d.err = l.decoder.DecodeFile(file)
			cache[file] = d
			if d.err != nil {
				log.Warn("geometry could not be decoded",
					zap.String("geometry", obj.Geometry), zap.String("file", file), zap.Error(d.err))
				stats.DecodeErrors = multierr.Append(stats.DecodeErrors, fmt.Errorf("geometry %q: %w", obj.Geometry, d.err))
			}
		}
		if d.err != nil {
			continue
		}

		holder := g.AddGroup(comp, obj.Geometry)
		for _, m := range d.meshes {
			g.AttachMesh(holder, cloneMesh(m))
			stats.Meshes++
		}
	}

	log.Info("meshes used", zap.Int("count", stats.Meshes), zap.Int("components", stats.Components))
	return g, stats, nil
}

// component returns the group for p, creating it under its parent.
func (l *Loader) component(g *scene.Graph, groups map[string]scene.NodeID, p string) scene.NodeID {
	if p == "." {
		return scene.Root
	}

	parent := scene.Root
	if i := strings.LastIndex(p, "."); i >= 0 {
		parentPath := p[:i]
		if id, ok := groups[parentPath]; ok {
			parent = id
		} else if parentPath != "" {
			logger.Named("loader").Debug("parent not registered, attaching to root",
				zap.String("path", p), zap.String("parent", parentPath))
		}
	}

	id := g.AddGroup(parent, p)
	groups[p] = id
	return id
}

// resolveGeometries maps every geometry key to a local file.
func (l *Loader) resolveGeometries(ctx context.Context, geometries map[string]string, basePath string) (map[string]string, error) {
	keys := make([]string, 0, len(geometries))
	for k := range geometries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	remoteBase := isRemote(basePath)
	files := make(map[string]string, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel := geometries[k]

		if !remoteBase {
			local := filepath.Join(basePath, filepath.FromSlash(rel))
			if info, err := os.Stat(local); err == nil && !info.IsDir() {
				files[k] = local
				continue
			}
			return nil, fmt.Errorf("%w: geometry %q: %s: %w", ErrResource, k, local, os.ErrNotExist)
		}

		if l.fetcher == nil {
			return nil, fmt.Errorf("%w: geometry %q: no fetcher for remote base %s", ErrResource, k, basePath)
		}
		locator, err := JoinLocator(basePath, rel)
		if err != nil {
			return nil, fmt.Errorf("%w: geometry %q: %w", ErrResource, k, err)
		}
		file, err := l.fetcher.Fetch(ctx, locator, path.Ext(rel))
		if err != nil {
			return nil, fmt.Errorf("%w: geometry %q: %w", ErrResource, k, err)
		}
		files[k] = file
	}
	return files, nil
}

func isRemote(base string) bool {
	return strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://")
}

// JoinLocator appends rel to the path of an http(s) base.
func JoinLocator(base, rel string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return u.JoinPath(rel).String(), nil
}

// cloneMesh copies the node so a decoded geometry can be attached more than
// once. Triangle data is shared; nothing downstream mutates it.
func cloneMesh(m *scene.Mesh) *scene.Mesh {
	c := scene.NewMesh(m.Name)
	c.Triangles = m.Triangles
	return c
}
