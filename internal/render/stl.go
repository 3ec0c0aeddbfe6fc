package render

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/sdko-org/gridgate/internal/threemf"
)

const (
	stlHeaderSize = 80
	stlFacetSize  = 50
)

var (
	ErrEmptySTL = errors.New("stl contains no geometry")

	vertexPattern = regexp.MustCompile(`vertex\s+([\d.eE+-]+)\s+([\d.eE+-]+)\s+([\d.eE+-]+)`)
)

// Facet is one STL triangle.
type Facet struct {
	Normal   threemf.Vertex
	Vertices [3]threemf.Vertex
}

// ParseSTL reads an ASCII or binary STL into an indexed mesh. Vertices are
// rounded to four decimals and shared between triangles once rounded.
func ParseSTL(data []byte) ([]threemf.Vertex, []threemf.Triangle, error) {
	var (
		raw []threemf.Vertex
		err error
	)
	if isBinarySTL(data) {
		raw, err = binaryVertices(data)
	} else {
		raw, err = asciiVertices(data)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(raw) < 3 {
		return nil, nil, ErrEmptySTL
	}

	index := make(map[threemf.Vertex]int)
	var (
		vertices  []threemf.Vertex
		triangles []threemf.Triangle
		pending   []int
	)
	for _, v := range raw {
		key := threemf.Vertex{X: round4(v.X), Y: round4(v.Y), Z: round4(v.Z)}
		id, ok := index[key]
		if !ok {
			id = len(vertices)
			index[key] = id
			vertices = append(vertices, key)
		}
		pending = append(pending, id)
		if len(pending) == 3 {
			triangles = append(triangles, threemf.Triangle{V1: pending[0], V2: pending[1], V3: pending[2]})
			pending = pending[:0]
		}
	}
	return vertices, triangles, nil
}

// A binary STL may also start with "solid", so the size is what decides.
func isBinarySTL(data []byte) bool {
	if len(data) < stlHeaderSize+4 {
		return false
	}
	count := binary.LittleEndian.Uint32(data[stlHeaderSize:])
	return uint64(len(data)) == stlHeaderSize+4+uint64(count)*stlFacetSize
}

func binaryVertices(data []byte) ([]threemf.Vertex, error) {
	count := int(binary.LittleEndian.Uint32(data[stlHeaderSize:]))
	out := make([]threemf.Vertex, 0, count*3)
	for i := 0; i < count; i++ {
		facet := data[stlHeaderSize+4+i*stlFacetSize:]
		// Skip the 12 byte normal.
		for v := 0; v < 3; v++ {
			off := 12 + v*12
			out = append(out, threemf.Vertex{
				X: float64(math.Float32frombits(binary.LittleEndian.Uint32(facet[off:]))),
				Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(facet[off+4:]))),
				Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(facet[off+8:]))),
			})
		}
	}
	return out, nil
}

func asciiVertices(data []byte) ([]threemf.Vertex, error) {
	matches := vertexPattern.FindAllSubmatch(data, -1)
	out := make([]threemf.Vertex, 0, len(matches))
	for _, m := range matches {
		var coords [3]float64
		for i := range coords {
			f, err := strconv.ParseFloat(string(m[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("parsing stl vertex %q: %w", m[0], err)
			}
			coords[i] = f
		}
		out = append(out, threemf.Vertex{X: coords[0], Y: coords[1], Z: coords[2]})
	}
	return out, nil
}

func round4(v float64) float64 {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		return 0
	}
	return r
}

// EncodeBinarySTL writes facets as a binary STL with the given header text.
func EncodeBinarySTL(header string, facets []Facet) []byte {
	var buf bytes.Buffer
	buf.Grow(stlHeaderSize + 4 + len(facets)*stlFacetSize)

	var head [stlHeaderSize]byte
	copy(head[:], header)
	buf.Write(head[:])

	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(facets)))
	for _, f := range facets {
		writeVertex(&buf, f.Normal)
		for _, v := range f.Vertices {
			writeVertex(&buf, v)
		}
		// Attribute byte count.
		_ = binary.Write(&buf, binary.LittleEndian, uint16(0))
	}
	return buf.Bytes()
}

func writeVertex(buf *bytes.Buffer, v threemf.Vertex) {
	_ = binary.Write(buf, binary.LittleEndian, [3]float32{float32(v.X), float32(v.Y), float32(v.Z)})
}
