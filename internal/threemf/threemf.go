// Package threemf writes 3MF build plates: one ZIP container holding a single
// model document with deduplicated meshes and one build item per placement.
package threemf

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	Application = "Gridfinity Server"
	MediaType   = "model/3mf"

	coreNamespace = "http://schemas.microsoft.com/3dmanufacturing/core/2015/02"
	modelPath     = "3D/3dmodel.model"
)

const contentTypes = `<?xml version="1.0" encoding="UTF-8"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml" />
  <Default Extension="model" ContentType="application/vnd.ms-package.3dmanufacturing-3dmodel+xml" />
</Types>`

const relationships = `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Target="/3D/3dmodel.model" Id="rel0" Type="http://schemas.microsoft.com/3dmanufacturing/2013/01/3dmodel" />
</Relationships>`

// ErrUnknownMesh is returned when a placement references a key that no mesh
// carries.
var ErrUnknownMesh = errors.New("placement references unknown mesh")

type Vertex struct {
	X, Y, Z float64
}

// Triangle holds zero-based indices into the vertex list of its mesh.
type Triangle struct {
	V1, V2, V3 int
}

// Mesh is one geometry, identified by its fingerprint.
type Mesh struct {
	Key       string
	Vertices  []Vertex
	Triangles []Triangle
}

// Placement puts an instance of the mesh with the same Key on the bed.
type Placement struct {
	Key         string
	XMm         float64
	YMm         float64
	RotationDeg float64
}

type options struct {
	bedWidth *float64
	bedDepth *float64
}

type Option func(*options)

// WithBed records both bed dimensions in the model metadata.
func WithBed(width, depth float64) Option {
	return func(o *options) {
		o.bedWidth = &width
		o.bedDepth = &depth
	}
}

func WithBedWidth(width float64) Option {
	return func(o *options) { o.bedWidth = &width }
}

func WithBedDepth(depth float64) Option {
	return func(o *options) { o.bedDepth = &depth }
}

type object struct {
	id   int
	mesh Mesh
}

// Build assembles a 3MF archive. Meshes sharing a key are written once, in
// order of first occurrence, with object ids starting at 1.
func Build(name string, meshes []Mesh, placements []Placement, opts ...Option) ([]byte, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ids := make(map[string]int, len(meshes))
	objects := make([]object, 0, len(meshes))
	for _, m := range meshes {
		if _, ok := ids[m.Key]; ok {
			continue
		}
		id := len(objects) + 1
		ids[m.Key] = id
		objects = append(objects, object{id: id, mesh: m})
	}

	model, err := modelDocument(name, objects, placements, ids, o)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range []struct {
		name string
		data []byte
	}{
		{"[Content_Types].xml", []byte(contentTypes)},
		{"_rels/.rels", []byte(relationships)},
		{modelPath, model},
	} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: entry.name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", entry.name, err)
		}
		if _, err := w.Write(entry.data); err != nil {
			return nil, fmt.Errorf("writing %s: %w", entry.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	return buf.Bytes(), nil
}

func modelDocument(name string, objects []object, placements []Placement, ids map[string]int, o options) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<model unit="millimeter" xmlns="%s">`, coreNamespace)

	writeMeta(&b, "Title", name)
	writeMeta(&b, "Application", Application)
	if o.bedWidth != nil {
		writeMeta(&b, "BedWidthMm", formatDecimal(*o.bedWidth))
	}
	if o.bedDepth != nil {
		writeMeta(&b, "BedDepthMm", formatDecimal(*o.bedDepth))
	}

	b.WriteString("<resources>")
	for _, obj := range objects {
		fmt.Fprintf(&b, `<object id="%d" type="model"><mesh><vertices>`, obj.id)
		for _, v := range obj.mesh.Vertices {
			fmt.Fprintf(&b, `<vertex x="%.4f" y="%.4f" z="%.4f" />`, v.X, v.Y, v.Z)
		}
		b.WriteString("</vertices><triangles>")
		for _, t := range obj.mesh.Triangles {
			fmt.Fprintf(&b, `<triangle v1="%d" v2="%d" v3="%d" />`, t.V1, t.V2, t.V3)
		}
		b.WriteString("</triangles></mesh></object>")
	}
	b.WriteString("</resources>")

	b.WriteString("<build>")
	for _, p := range placements {
		id, ok := ids[p.Key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMesh, p.Key)
		}
		fmt.Fprintf(&b, `<item objectid="%d" transform="%s" />`, id, Transform(p.XMm, p.YMm, p.RotationDeg))
	}
	b.WriteString("</build></model>")
	return b.Bytes(), nil
}

func writeMeta(b *bytes.Buffer, name, value string) {
	fmt.Fprintf(b, `<metadata name="%s">`, name)
	// Writes to a bytes.Buffer never fail.
	_ = xml.EscapeText(b, []byte(value))
	b.WriteString("</metadata>")
}

// Transform returns the 3MF affine matrix rotating by rotationDeg around Z
// and then translating by (x, y), as twelve space separated numbers.
func Transform(x, y, rotationDeg float64) string {
	theta := rotationDeg * math.Pi / 180
	c := roundTo(math.Cos(theta), 6)
	s := roundTo(math.Sin(theta), 6)
	values := []float64{c, -s, 0, s, c, 0, 0, 0, 1, x, y, 0}

	out := make([]string, len(values))
	for i, v := range values {
		out[i] = formatNumber(v)
	}
	return strings.Join(out, " ")
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	r := math.Round(v*p) / p
	if r == 0 {
		return 0
	}
	return r
}

// formatNumber prints whole values as integers and everything else with at
// most six decimals and no trailing zeros.
func formatNumber(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatInt(int64(v), 10)
	}
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// formatDecimal always keeps a fractional part: 220 prints as "220.0".
func formatDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
