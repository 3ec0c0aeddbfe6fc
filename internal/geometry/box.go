package geometry

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sdko-org/gridgate/internal/parts"
	"github.com/sdko-org/gridgate/internal/render"
	"github.com/sdko-org/gridgate/internal/threemf"
)

const (
	GridUnitMm      = 42.0
	HeightUnitMm    = 7.0
	BaseplateHeight = 5.0
	binClearanceMm  = 0.5
	magnetRecessMm  = 2.5
)

// BoxRenderer approximates every part with its bounding cuboid. It serves
// when no geometry service is configured.
type BoxRenderer struct {
	log *logrus.Entry
}

func NewBoxRenderer(logger *logrus.Logger) *BoxRenderer {
	return &BoxRenderer{log: logger.WithField("component", "box_renderer")}
}

func (b *BoxRenderer) Bin(ctx context.Context, req parts.BinRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := float64(req.Width)*GridUnitMm - binClearanceMm
	d := float64(req.Depth)*GridUnitMm - binClearanceMm
	h := float64(req.Height) * HeightUnitMm
	b.log.WithFields(logrus.Fields{"width": w, "depth": d, "height": h}).Debug("Rendering bin box")
	return render.EncodeBinarySTL(fmt.Sprintf("gridgate bin %dx%dx%d", req.Width, req.Depth, req.Height), cuboid(w, d, h)), nil
}

func (b *BoxRenderer) Baseplate(ctx context.Context, req parts.BaseplateRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := float64(req.GridWidth) * GridUnitMm
	d := float64(req.GridDepth) * GridUnitMm
	h := BaseplateHeight
	if req.HasMagnets {
		h += magnetRecessMm
	}
	b.log.WithFields(logrus.Fields{"width": w, "depth": d, "height": h}).Debug("Rendering baseplate box")
	return render.EncodeBinarySTL(fmt.Sprintf("gridgate baseplate %dx%d", req.GridWidth, req.GridDepth), cuboid(w, d, h)), nil
}

// cuboid returns the twelve outward facing triangles of an axis aligned box
// with one corner at the origin.
func cuboid(w, d, h float64) []render.Facet {
	v := [8]threemf.Vertex{
		{X: 0, Y: 0, Z: 0}, {X: w, Y: 0, Z: 0}, {X: w, Y: d, Z: 0}, {X: 0, Y: d, Z: 0},
		{X: 0, Y: 0, Z: h}, {X: w, Y: 0, Z: h}, {X: w, Y: d, Z: h}, {X: 0, Y: d, Z: h},
	}
	faces := []struct {
		normal threemf.Vertex
		quad   [4]int
	}{
		{threemf.Vertex{Z: -1}, [4]int{0, 3, 2, 1}},
		{threemf.Vertex{Z: 1}, [4]int{4, 5, 6, 7}},
		{threemf.Vertex{Y: -1}, [4]int{0, 1, 5, 4}},
		{threemf.Vertex{Y: 1}, [4]int{2, 3, 7, 6}},
		{threemf.Vertex{X: -1}, [4]int{3, 0, 4, 7}},
		{threemf.Vertex{X: 1}, [4]int{1, 2, 6, 5}},
	}

	facets := make([]render.Facet, 0, 12)
	for _, f := range faces {
		q := f.quad
		facets = append(facets,
			render.Facet{Normal: f.normal, Vertices: [3]threemf.Vertex{v[q[0]], v[q[1]], v[q[2]]}},
			render.Facet{Normal: f.normal, Vertices: [3]threemf.Vertex{v[q[0]], v[q[2]], v[q[3]]}},
		)
	}
	return facets
}
