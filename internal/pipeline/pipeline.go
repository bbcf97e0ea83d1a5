// Package pipeline runs one bake end to end: obtain the document, load and
// flatten the scene, bake, post-process and write the outputs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/aobake/internal/bake"
	"github.com/Faultbox/aobake/internal/config"
	"github.com/Faultbox/aobake/internal/jobs"
	"github.com/Faultbox/aobake/internal/loader"
	"github.com/Faultbox/aobake/internal/logger"
	"github.com/Faultbox/aobake/internal/postprocess"
	"github.com/Faultbox/aobake/internal/remote"
	"github.com/Faultbox/aobake/pkg/atlas"
	"github.com/Faultbox/aobake/pkg/flatten"
	"github.com/Faultbox/aobake/pkg/formats"
	"github.com/Faultbox/aobake/pkg/igxc"
	"github.com/Faultbox/aobake/pkg/scene"
)

// Suffix used when caching fetched documents.
const documentSuffix = ".igcx"

// Error is a job failure with a message meant for API clients.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// classify maps a load failure to its client message.
func classify(err error) *Error {
	switch {
	case errors.Is(err, igxc.ErrSchema):
		detail := strings.TrimPrefix(err.Error(), igxc.ErrSchema.Error()+": ")
		return &Error{Message: fmt.Sprintf("attributes missing in igxc (%s)", detail), Err: err}
	case errors.Is(err, loader.ErrResource), errors.Is(err, remote.ErrStatus):
		return &Error{Message: "file referenced in igxc could not be fetched " + err.Error(), Err: err}
	default:
		return &Error{Message: "igxc couldn't be loaded", Err: err}
	}
}

// Options configures a Pipeline.
type Options struct {
	OutputDir string
	// Resolution is used when a job does not ask for one.
	Resolution int
	// Supersample bakes at Resolution*Supersample and scales down.
	Supersample  int
	SmoothRadius float64
}

// Pipeline implements jobs.Runner.
type Pipeline struct {
	opts   Options
	kernel bake.Kernel
	cache  *remote.Cache
	loader *loader.Loader
	log    *zap.Logger
}

// New creates a pipeline. cache may be nil, which disables url jobs and
// remote geometry.
func New(opts Options, kernel bake.Kernel, cache *remote.Cache) *Pipeline {
	if opts.Resolution <= 0 {
		opts.Resolution = 1024
	}
	if opts.Supersample <= 0 {
		opts.Supersample = 1
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "out"
	}

	var fetcher loader.Fetcher
	if cache != nil {
		fetcher = cache
	}
	return &Pipeline{
		opts:   opts,
		kernel: kernel,
		cache:  cache,
		loader: loader.New(formats.Default(), fetcher),
		log:    logger.Named("pipeline"),
	}
}

// FromConfig wires a pipeline with the CPU kernel and a remote cache.
func FromConfig(cfg *config.Config) *Pipeline {
	workers := cfg.Bake.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	kernel := bake.NewCPU(bake.Options{
		Samples:     cfg.Bake.Samples,
		MaxDistance: cfg.Bake.MaxDistance,
		Bias:        cfg.Bake.Bias,
		Workers:     workers,
	})
	cache := remote.NewCache(cfg.Paths.CacheDir, remote.Options{
		Timeout:   cfg.Remote.Timeout,
		UserAgent: cfg.Remote.UserAgent,
	})
	return New(Options{
		OutputDir:    cfg.Paths.OutputDir,
		Resolution:   cfg.Bake.Resolution,
		Supersample:  cfg.Bake.Supersample,
		SmoothRadius: cfg.Bake.SmoothRadius,
	}, kernel, cache)
}

// OutputDir returns the directory results are written to.
func (p *Pipeline) OutputDir() string { return p.opts.OutputDir }

func (p *Pipeline) output(name, ext string) string {
	return filepath.Join(p.opts.OutputDir, name+ext)
}

// source is what a job asked to bake.
type source struct {
	doc      *igxc.Document
	graph    *scene.Graph // built-in test scene
	basePath string
	locator  string
}

// Run executes one job.
func (p *Pipeline) Run(ctx context.Context, args jobs.Args) (*jobs.Result, error) {
	resolution := args.Int("resolution", p.opts.Resolution)
	if resolution <= 0 {
		return nil, &Error{Message: fmt.Sprintf("invalid resolution %d", resolution)}
	}
	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		return nil, &Error{Message: "output directory could not be created", Err: err}
	}

	src, err := p.source(ctx, args)
	if src == nil || (src.doc == nil && src.graph == nil) {
		return nil, classify(err)
	}

	if src.graph != nil {
		name := igxc.OutputName(strconv.Itoa(rand.IntN(1_000_000_000)+1), resolution)
		p.log.Info("baking test scene", zap.String("name", name))
		return p.bake(ctx, src.graph, nil, name, resolution, args.Bool("face_normals"))
	}

	doc := src.doc
	name := doc.CacheKey(resolution, src.locator)
	log := p.log.With(zap.String("name", name))

	if err == nil {
		if res, ok := p.cached(doc, name); ok {
			log.Info("taking from cache")
			return res, nil
		}
	}

	original := name + "_original.igxc"
	if werr := doc.WriteFile(p.output(name+"_original", ".igxc")); werr != nil {
		log.Warn("original document not persisted", zap.Error(werr))
	}
	failed := &jobs.Result{URLIgxcOriginal: original}
	if err != nil {
		log.Error("document rejected", zap.Error(err))
		return failed, classify(err)
	}

	if b := args.String("basePath"); b != "" {
		src.basePath = b
	}
	g, stats, err := p.loader.Load(ctx, doc, src.basePath)
	if err != nil {
		log.Error("scene not loaded", zap.Error(err))
		return failed, classify(err)
	}
	if stats.DecodeErrors != nil {
		log.Warn("geometry degraded", zap.Errors("errors", multierr.Errors(stats.DecodeErrors)))
	}

	res, err := p.bake(ctx, g, doc, name, resolution, args.Bool("face_normals"))
	if err != nil {
		return failed, err
	}
	return res, nil
}

// source resolves the document named by args. On a schema error the
// document is still returned alongside err.
func (p *Pipeline) source(ctx context.Context, args jobs.Args) (*source, error) {
	switch {
	case args.String("url") != "":
		locator := args.String("url")
		if p.cache == nil {
			return nil, fmt.Errorf("%w: no fetch cache for %s", loader.ErrResource, locator)
		}
		file, err := p.cache.Fetch(ctx, locator, documentSuffix)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", loader.ErrResource, err)
		}
		p.log.Info("source", zap.String("url", locator))
		doc, err := igxc.ReadFile(file)
		return &source{doc: doc, basePath: parentLocator(locator), locator: locator}, err

	case args.String("file") != "":
		file := args.String("file")
		p.log.Info("source", zap.String("file", file))
		doc, err := igxc.ReadFile(file)
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %w", loader.ErrResource, err)
		}
		return &source{doc: doc, basePath: filepath.Dir(file)}, err

	case args["igxcContent"] != nil:
		p.log.Info("source", zap.String("from", "inline content"))
		doc, err := igxc.FromValue(args["igxcContent"])
		return &source{doc: doc}, err

	case args.Bool("test"):
		return &source{graph: scene.TestScene()}, nil
	}
	return nil, errors.New("no igxc source in job arguments")
}

// cached returns the result of an earlier bake of name, if both its image
// and mapping are present.
func (p *Pipeline) cached(doc *igxc.Document, name string) (*jobs.Result, bool) {
	if _, err := os.Stat(p.output(name, ".png")); err != nil {
		return nil, false
	}
	mapping, err := atlas.ReadMappingFile(p.output(name, ".json"))
	if err != nil {
		return nil, false
	}
	doc.Annotate(name+".png", mapping)
	return p.result(doc, name, mapping), true
}

func (p *Pipeline) result(doc *igxc.Document, name string, mapping atlas.Mapping) *jobs.Result {
	res := &jobs.Result{
		URLAoMapImage:    name + ".png",
		URLAoMappingJSON: name + ".json",
		Transforms:       mapping,
	}
	if doc != nil {
		res.URLIgxcModified = name + ".igxc"
		res.URLIgxcOriginal = name + "_original.igxc"
		res.IgxcModified = doc.Raw()
	}
	return res
}

func (p *Pipeline) bake(ctx context.Context, g *scene.Graph, doc *igxc.Document, name string, resolution int, faceNormals bool) (*jobs.Result, error) {
	log := p.log.With(zap.String("name", name))

	flat := flatten.Flatten(g, resolution)
	log.Info("scene flattened",
		zap.Int("meshes", flat.Meshes),
		zap.Int("triangles", flat.Triangles),
		zap.String("buckets", fmt.Sprintf("%dx%d", flat.Columns, flat.Rows)))
	if flat.Unmapped > 0 {
		log.Debug("meshes under the root have no mapping entry", zap.Int("meshes", flat.Unmapped))
	}
	if faceNormals {
		flat.Buffers.DropNormals()
	}

	img, err := p.kernel.Bake(ctx, flat.Buffers, resolution*p.opts.Supersample)
	if err != nil {
		return nil, &Error{Message: "ambient occlusion could not be baked", Err: err}
	}
	img = postprocess.Apply(img, postprocess.Options{Resolution: resolution, SmoothRadius: p.opts.SmoothRadius})

	if err := postprocess.WritePNG(p.output(name, ".png"), img); err != nil {
		return nil, &Error{Message: "ao map could not be written", Err: err}
	}
	if err := flat.Mapping.WriteFile(p.output(name, ".json")); err != nil {
		return nil, &Error{Message: "ao mapping could not be written", Err: err}
	}
	if doc != nil {
		doc.Annotate(name+".png", flat.Mapping)
		if err := doc.WriteFile(p.output(name, ".igxc")); err != nil {
			return nil, &Error{Message: "modified igxc could not be written", Err: err}
		}
	}
	log.Info("outputs written", zap.String("dir", p.opts.OutputDir))
	return p.result(doc, name, flat.Mapping), nil
}

// Cleanup removes every AO_* output and empties the fetch cache. It returns
// the number of files removed.
func (p *Pipeline) Cleanup() (int, error) {
	var errs error
	removed := 0

	matches, err := filepath.Glob(filepath.Join(p.opts.OutputDir, "AO_*"))
	errs = multierr.Append(errs, err)
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}

	if p.cache != nil {
		n, err := p.cache.Clear()
		removed += n
		errs = multierr.Append(errs, err)
	}

	p.log.Info("results removed", zap.Int("files", removed))
	return removed, errs
}

// parentLocator returns the directory part of a document url.
func parentLocator(locator string) string {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" {
		return filepath.Dir(locator)
	}
	dir := path.Dir(u.Path)
	if dir == "." || dir == "/" {
		dir = ""
	}
	u.Path, u.RawPath = dir+"/", ""
	u.RawQuery, u.Fragment = "", ""
	return u.String()
}
