package threemf

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type xmlModel struct {
	XMLName  xml.Name `xml:"model"`
	Unit     string   `xml:"unit,attr"`
	Metadata []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:",chardata"`
	} `xml:"metadata"`
	Objects []struct {
		ID       int `xml:"id,attr"`
		Vertices []struct {
			X string `xml:"x,attr"`
			Y string `xml:"y,attr"`
			Z string `xml:"z,attr"`
		} `xml:"mesh>vertices>vertex"`
		Triangles []struct {
			V1 int `xml:"v1,attr"`
			V2 int `xml:"v2,attr"`
			V3 int `xml:"v3,attr"`
		} `xml:"mesh>triangles>triangle"`
	} `xml:"resources>object"`
	Items []struct {
		ObjectID  int    `xml:"objectid,attr"`
		Transform string `xml:"transform,attr"`
	} `xml:"build>item"`
}

func triangleMesh(key string, offset float64) Mesh {
	return Mesh{
		Key: key,
		Vertices: []Vertex{
			{0, 0, 0},
			{1 + offset, 0, 0},
			{0, 1, 0.12345},
		},
		Triangles: []Triangle{{0, 1, 2}},
	}
}

func readArchive(t *testing.T, data []byte) ([]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var names []string
	contents := make(map[string][]byte)
	for _, f := range zr.File {
		names = append(names, f.Name)
		assert.Equal(t, zip.Deflate, f.Method, f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		contents[f.Name] = body
	}
	return names, contents
}

func parseModel(t *testing.T, data []byte) xmlModel {
	t.Helper()
	_, contents := readArchive(t, data)
	var m xmlModel
	require.NoError(t, xml.Unmarshal(contents[modelPath], &m))
	return m
}

func TestBuildArchiveLayout(t *testing.T) {
	data, err := Build("layout", []Mesh{triangleMesh("a", 0)}, []Placement{{Key: "a"}})
	require.NoError(t, err)

	names, contents := readArchive(t, data)
	assert.Equal(t, []string{"[Content_Types].xml", "_rels/.rels", "3D/3dmodel.model"}, names)
	assert.Contains(t, string(contents["[Content_Types].xml"]), `Extension="model"`)
	assert.Contains(t, string(contents["_rels/.rels"]), `Target="/3D/3dmodel.model"`)

	model := string(contents[modelPath])
	assert.True(t, strings.HasPrefix(model, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"))
	assert.Contains(t, model, `xmlns="http://schemas.microsoft.com/3dmanufacturing/core/2015/02"`)
	assert.Contains(t, model, `<vertex x="0.0000" y="1.0000" z="0.1235" />`)
}

func TestBuildDeduplicatesMeshes(t *testing.T) {
	meshes := []Mesh{triangleMesh("a", 0), triangleMesh("b", 1), triangleMesh("a", 5)}
	placements := []Placement{
		{Key: "a", XMm: 0, YMm: 0},
		{Key: "b", XMm: 50, YMm: 0},
		{Key: "a", XMm: 100, YMm: 0},
	}

	data, err := Build("dedup", meshes, placements)
	require.NoError(t, err)
	m := parseModel(t, data)

	require.Len(t, m.Objects, 2)
	assert.Equal(t, 1, m.Objects[0].ID)
	assert.Equal(t, 2, m.Objects[1].ID)
	assert.Equal(t, "1.0000", m.Objects[0].Vertices[1].X, "first occurrence wins")

	var objectIDs []int
	for _, item := range m.Items {
		objectIDs = append(objectIDs, item.ObjectID)
	}
	if diff := cmp.Diff([]int{1, 2, 1}, objectIDs); diff != "" {
		t.Errorf("unexpected build item object ids (-want +got):\n%s", diff)
	}
}

func TestBuildMetadata(t *testing.T) {
	data, err := Build("My <Plate>", []Mesh{triangleMesh("a", 0)}, []Placement{{Key: "a"}}, WithBed(220, 220.5))
	require.NoError(t, err)
	m := parseModel(t, data)

	assert.Equal(t, "millimeter", m.Unit)
	got := make(map[string]string)
	for _, md := range m.Metadata {
		got[md.Name] = md.Value
	}
	want := map[string]string{
		"Title":       "My <Plate>",
		"Application": "Gridfinity Server",
		"BedWidthMm":  "220.0",
		"BedDepthMm":  "220.5",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected metadata (-want +got):\n%s", diff)
	}
}

func TestBuildOmitsUnsetBed(t *testing.T) {
	data, err := Build("plate", []Mesh{triangleMesh("a", 0)}, []Placement{{Key: "a"}}, WithBedDepth(180))
	require.NoError(t, err)
	m := parseModel(t, data)

	var names []string
	for _, md := range m.Metadata {
		names = append(names, md.Name)
	}
	assert.Equal(t, []string{"Title", "Application", "BedDepthMm"}, names)
}

func TestBuildTriangles(t *testing.T) {
	data, err := Build("tri", []Mesh{triangleMesh("a", 0)}, []Placement{{Key: "a"}})
	require.NoError(t, err)
	m := parseModel(t, data)

	require.Len(t, m.Objects[0].Triangles, 1)
	tri := m.Objects[0].Triangles[0]
	assert.Equal(t, []int{0, 1, 2}, []int{tri.V1, tri.V2, tri.V3})
}

func TestBuildUnknownMesh(t *testing.T) {
	_, err := Build("broken", []Mesh{triangleMesh("a", 0)}, []Placement{{Key: "missing"}})
	assert.True(t, errors.Is(err, ErrUnknownMesh))
}

func TestTransform(t *testing.T) {
	tests := []struct {
		x, y, rot float64
		want      string
	}{
		{0, 0, 0, "1 0 0 0 1 0 0 0 1 0 0 0"},
		{21, 22, 0, "1 0 0 0 1 0 0 0 1 21 22 0"},
		{21, 22, 90, "0 -1 0 1 0 0 0 0 1 21 22 0"},
		{0, 0, 180, "-1 0 0 0 -1 0 0 0 1 0 0 0"},
		{10.5, 0, 45, "0.707107 -0.707107 0 0.707107 0.707107 0 0 0 1 10.5 0 0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Transform(tt.x, tt.y, tt.rot), "rotation %v", tt.rot)
	}
}

func TestBuildItemTransforms(t *testing.T) {
	data, err := Build("rot", []Mesh{triangleMesh("a", 0)}, []Placement{
		{Key: "a", XMm: 21, YMm: 21},
		{Key: "a", XMm: 63, YMm: 21, RotationDeg: 90},
	})
	require.NoError(t, err)
	m := parseModel(t, data)

	require.Len(t, m.Items, 2)
	assert.Equal(t, "1 0 0 0 1 0 0 0 1 21 21 0", m.Items[0].Transform)
	assert.Equal(t, "0 -1 0 1 0 0 0 0 1 63 21 0", m.Items[1].Transform)
}
