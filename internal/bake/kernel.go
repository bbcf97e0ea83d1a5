// Package bake computes ambient occlusion maps from flattened scene buffers.
package bake

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"

	"github.com/chewxy/math32"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/aobake/internal/logger"
	"github.com/Faultbox/aobake/pkg/flatten"
	"github.com/Faultbox/aobake/pkg/math"
)

// Kernel bakes an ambient occlusion map of size resolution x resolution.
// Covered texels are opaque grey, uncovered texels have alpha 0.
type Kernel interface {
	Bake(ctx context.Context, buf *flatten.Buffers, resolution int) (*image.RGBA, error)
}

// KernelFunc adapts a function to Kernel.
type KernelFunc func(ctx context.Context, buf *flatten.Buffers, resolution int) (*image.RGBA, error)

// Bake calls f.
func (f KernelFunc) Bake(ctx context.Context, buf *flatten.Buffers, resolution int) (*image.RGBA, error) {
	return f(ctx, buf, resolution)
}

// Options tunes the CPU kernel.
type Options struct {
	// Samples is the number of hemisphere rays per texel.
	Samples int
	// MaxDistance limits occluder distance. Zero means the scene diagonal.
	MaxDistance float32
	// Bias offsets ray origins along the normal, as a fraction of the
	// scene diagonal.
	Bias float32
	// Workers bounds row parallelism. Zero means unbounded.
	Workers int
	// Seed perturbs the per-texel sample sequence.
	Seed uint64
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Samples: 64,
		Bias:    1e-4,
	}
}

// CPU is a ray traced reference kernel.
type CPU struct {
	opts Options
	log  *zap.Logger
}

// NewCPU creates a CPU kernel.
func NewCPU(opts Options) *CPU {
	if opts.Samples <= 0 {
		opts.Samples = DefaultOptions().Samples
	}
	if opts.Bias <= 0 {
		opts.Bias = DefaultOptions().Bias
	}
	return &CPU{opts: opts, log: logger.Named("bake")}
}

// Options returns the effective options.
func (k *CPU) Options() Options { return k.opts }

// Bake implements Kernel.
func (k *CPU) Bake(ctx context.Context, buf *flatten.Buffers, resolution int) (*image.RGBA, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("invalid resolution %d", resolution)
	}
	n := buf.Triangles()
	if len(buf.TexCoords) < n*6 {
		return nil, fmt.Errorf("texcoord buffer holds %d floats, need %d", len(buf.TexCoords), n*6)
	}
	hasNormals := len(buf.Normals) >= n*9 && n > 0

	tris := make([]triangle, n)
	for i := range tris {
		p := buf.Positions[i*9 : i*9+9]
		tris[i] = newTriangle(math.V3(p[0], p[1], p[2]), math.V3(p[3], p[4], p[5]), math.V3(p[6], p[7], p[8]))
	}
	// Face normals are taken before the BVH reorders tris.
	faceNormals := make([]math.Vec3, n)
	origins := make([]math.Vec3, n)
	e1s := make([]math.Vec3, n)
	e2s := make([]math.Vec3, n)
	for i := range tris {
		faceNormals[i] = tris[i].e1.Cross(tris[i].e2).Normalize()
		origins[i], e1s[i], e2s[i] = tris[i].v0, tris[i].e1, tris[i].e2
	}

	accel := buildBVH(tris)
	diag := accel.bounds().diagonal()
	maxDist := k.opts.MaxDistance
	if maxDist <= 0 {
		maxDist = diag
	}
	bias := k.opts.Bias * diag

	texels, covered := rasterize(buf.TexCoords, n, resolution)
	k.log.Debug("rasterized",
		zap.Int("triangles", n),
		zap.Int("resolution", resolution),
		zap.Int("covered", covered),
		zap.Float32("diagonal", diag))

	img := image.NewRGBA(image.Rect(0, 0, resolution, resolution))

	g, ctx := errgroup.WithContext(ctx)
	if k.opts.Workers > 0 {
		g.SetLimit(k.opts.Workers)
	}
	for y := 0; y < resolution; y++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			stack := make([]int32, 0, 64)
			row := resolution - 1 - y
			for x := 0; x < resolution; x++ {
				tx := texels[y*resolution+x]
				if tx.tri < 0 {
					continue
				}
				t := int(tx.tri)
				pos := origins[t].Add(e1s[t].Scale(tx.b1)).Add(e2s[t].Scale(tx.b2))

				normal := faceNormals[t]
				if hasNormals {
					if in := interpolate(buf.Normals, t, tx.b0, tx.b1, tx.b2); in.Length() > 0 {
						normal = in.Normalize()
					}
				}

				ao := float32(1)
				if normal.Length() > 0 {
					rng := rand.New(rand.NewPCG(uint64(y*resolution+x), k.opts.Seed))
					ao = k.occlusion(accel, pos.Add(normal.Scale(bias)), normal, bias, maxDist, rng, stack)
				}
				v := uint8(math32.Round(ao * 255))
				img.SetRGBA(x, row, color.RGBA{R: v, G: v, B: v, A: 255})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return img, nil
}

// occlusion returns the unoccluded fraction of cosine weighted rays.
func (k *CPU) occlusion(accel *bvh, origin, normal math.Vec3, tMin, tMax float32, rng *rand.Rand, stack []int32) float32 {
	t, b := basis(normal)
	open := 0
	for s := 0; s < k.opts.Samples; s++ {
		r1, r2 := rng.Float32(), rng.Float32()
		phi := 2 * math32.Pi * r1
		r := math32.Sqrt(r2)
		lx, ly, lz := r*math32.Cos(phi), r*math32.Sin(phi), math32.Sqrt(max(0, 1-r2))
		dir := t.Scale(lx).Add(b.Scale(ly)).Add(normal.Scale(lz))
		if !accel.occluded(origin, dir, tMin, tMax, stack) {
			open++
		}
	}
	return float32(open) / float32(k.opts.Samples)
}

// basis returns two unit vectors orthogonal to n and each other.
func basis(n math.Vec3) (t, b math.Vec3) {
	up := math.V3(0, 0, 1)
	if math32.Abs(n.Z) > 0.9 {
		up = math.V3(1, 0, 0)
	}
	t = up.Cross(n).Normalize()
	b = n.Cross(t)
	return t, b
}
