package geometry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdko-org/gridgate/internal/parts"
	"github.com/sdko-org/gridgate/internal/render"
	"github.com/sdko-org/gridgate/internal/threemf"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestClientPostsRequests(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte("solid stl"))
	}))
	defer srv.Close()

	client := NewClient(quietLogger(), srv.URL+"/", 0)

	req := parts.NewBinRequest()
	req.Width, req.Depth, req.Height = 2, 1, 3
	data, err := client.Bin(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte("solid stl"), data)
	assert.Equal(t, "/bin", gotPath)
	assert.Equal(t, float64(2), gotBody["width"])
	assert.Equal(t, "hollow", gotBody["type"])

	_, err = client.Baseplate(context.Background(), parts.BaseplateRequest{GridWidth: 5, GridDepth: 4})
	require.NoError(t, err)
	assert.Equal(t, "/baseplate", gotPath)
	assert.Equal(t, float64(5), gotBody["gridWidth"])
}

func TestClientNon200IsRenderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported wall thickness", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(quietLogger(), srv.URL, time.Second)
	_, err := client.Bin(context.Background(), parts.NewBinRequest())

	var re *render.RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "bin", re.Part)
	assert.Equal(t, http.StatusUnprocessableEntity, re.Status)
	assert.Equal(t, "unsupported wall thickness", re.Msg)
}

func TestClientTransportFailureIsRenderError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(quietLogger(), url, time.Second)
	_, err := client.Baseplate(context.Background(), parts.BaseplateRequest{GridWidth: 1, GridDepth: 1})

	var re *render.RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "baseplate", re.Part)
	assert.Error(t, re.Err)
}

func TestClientHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(quietLogger(), srv.URL, 0)
	_, err := client.Bin(ctx, parts.NewBinRequest())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func bounds(t *testing.T, data []byte) threemf.Vertex {
	t.Helper()
	vertices, triangles, err := render.ParseSTL(data)
	require.NoError(t, err)
	assert.Len(t, vertices, 8)
	assert.Len(t, triangles, 12)

	var max threemf.Vertex
	for _, v := range vertices {
		if v.X > max.X {
			max.X = v.X
		}
		if v.Y > max.Y {
			max.Y = v.Y
		}
		if v.Z > max.Z {
			max.Z = v.Z
		}
	}
	return max
}

func TestBoxRendererBin(t *testing.T) {
	box := NewBoxRenderer(quietLogger())
	req := parts.NewBinRequest()
	req.Width, req.Depth, req.Height = 2, 1, 3

	data, err := box.Bin(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, threemf.Vertex{X: 83.5, Y: 41.5, Z: 21}, bounds(t, data))
}

func TestBoxRendererBaseplate(t *testing.T) {
	box := NewBoxRenderer(quietLogger())

	plain, err := box.Baseplate(context.Background(), parts.BaseplateRequest{GridWidth: 5, GridDepth: 4})
	require.NoError(t, err)
	assert.Equal(t, threemf.Vertex{X: 210, Y: 168, Z: 5}, bounds(t, plain))

	magnets, err := box.Baseplate(context.Background(), parts.BaseplateRequest{GridWidth: 5, GridDepth: 4, HasMagnets: true})
	require.NoError(t, err)
	assert.Equal(t, 7.5, bounds(t, magnets).Z)
}

func TestBoxRendererCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBoxRenderer(quietLogger()).Bin(ctx, parts.NewBinRequest())
	assert.ErrorIs(t, err, context.Canceled)
}
