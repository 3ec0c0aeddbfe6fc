// Package render turns part requests into downloadable artifacts: single STL
// files, zipped plates and 3MF build plates.
package render

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sdko-org/gridgate/internal/metrics"
	"github.com/sdko-org/gridgate/internal/parts"
	"github.com/sdko-org/gridgate/internal/threemf"
)

const (
	MediaTypeSTL = "application/octet-stream"
	MediaTypeZip = "application/zip"
)

// Geometry produces STL bytes for single parts.
type Geometry interface {
	Bin(ctx context.Context, req parts.BinRequest) ([]byte, error)
	Baseplate(ctx context.Context, req parts.BaseplateRequest) ([]byte, error)
}

// Cache stores rendered STL bytes by fingerprint.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte)
}

// Artifact is a rendered file ready to be served.
type Artifact struct {
	Data      []byte
	Filename  string
	MediaType string
}

// RenderError reports a geometry failure. Its message is what a failed job
// exposes to the client.
type RenderError struct {
	Part   string
	Status int
	Msg    string
	Err    error
}

func (e *RenderError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("rendering %s failed: geometry service returned %d: %s", e.Part, e.Status, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("rendering %s failed: %v", e.Part, e.Err)
	default:
		return fmt.Sprintf("rendering %s failed: %s", e.Part, e.Msg)
	}
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Service renders every request kind on top of a Geometry backend.
type Service struct {
	geometry Geometry
	cache    Cache
	logger   *logrus.Entry
}

// NewService returns a renderer. cache may be nil, in which case every part
// is rendered by the geometry backend.
func NewService(geometry Geometry, cache Cache, logger *logrus.Logger) *Service {
	return &Service{
		geometry: geometry,
		cache:    cache,
		logger:   logger.WithField("component", "render"),
	}
}

// Render produces the artifact for req.
func (s *Service) Render(ctx context.Context, req parts.Request) (Artifact, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRenderDuration(string(req.JobType()), time.Since(start))
	}()

	switch r := req.(type) {
	case parts.BinRequest:
		data, err := s.bin(ctx, r)
		if err != nil {
			return Artifact{}, err
		}
		return Artifact{Data: data, Filename: parts.BinFilename(r, -1), MediaType: MediaTypeSTL}, nil
	case parts.BaseplateRequest:
		data, err := s.baseplate(ctx, r)
		if err != nil {
			return Artifact{}, err
		}
		return Artifact{Data: data, Filename: parts.BaseplateFilename(r), MediaType: MediaTypeSTL}, nil
	case parts.PlateRequest:
		return s.plate(ctx, r)
	case parts.Plate3MFRequest:
		return s.plate3MF(ctx, r)
	default:
		return Artifact{}, fmt.Errorf("unsupported request type %T", req)
	}
}

func (s *Service) bin(ctx context.Context, req parts.BinRequest) ([]byte, error) {
	return s.cached(req.Fingerprint(), func() ([]byte, error) {
		data, err := s.geometry.Bin(ctx, req)
		return data, asRenderError("bin", err)
	})
}

func (s *Service) baseplate(ctx context.Context, req parts.BaseplateRequest) ([]byte, error) {
	return s.cached(req.Fingerprint(), func() ([]byte, error) {
		data, err := s.geometry.Baseplate(ctx, req)
		return data, asRenderError("baseplate", err)
	})
}

func (s *Service) cached(key string, render func() ([]byte, error)) ([]byte, error) {
	if s.cache != nil {
		if data, ok := s.cache.Get(key); ok {
			return data, nil
		}
	}
	data, err := render()
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, data)
	}
	return data, nil
}

func (s *Service) item(ctx context.Context, item parts.Item) ([]byte, error) {
	switch it := item.(type) {
	case parts.BinItem:
		return s.bin(ctx, it.Bin)
	case parts.BaseplateItem:
		return s.baseplate(ctx, it.Baseplate)
	default:
		return nil, fmt.Errorf("unsupported plate item %T", item)
	}
}

func (s *Service) plate(ctx context.Context, req parts.PlateRequest) (Artifact, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, item := range req.Items {
		if item.Item == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Artifact{}, err
		}

		var name string
		switch it := item.Item.(type) {
		case parts.BinItem:
			name = parts.BinFilename(it.Bin, i)
		case parts.BaseplateItem:
			name = parts.BaseplateFilename(it.Baseplate)
		}
		data, err := s.item(ctx, item.Item)
		if err != nil {
			return Artifact{}, err
		}

		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return Artifact{}, fmt.Errorf("adding %s to plate: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return Artifact{}, fmt.Errorf("writing %s to plate: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return Artifact{}, fmt.Errorf("closing plate archive: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"plate": req.Name, "items": len(req.Items)}).Debug("Plate archive built")
	return Artifact{Data: buf.Bytes(), Filename: req.Name + ".zip", MediaType: MediaTypeZip}, nil
}

func (s *Service) plate3MF(ctx context.Context, req parts.Plate3MFRequest) (Artifact, error) {
	var (
		meshes     []threemf.Mesh
		placements []threemf.Placement
		seen       = make(map[string]bool)
	)
	for _, item := range req.Items {
		key := parts.ItemFingerprint(item.Item)
		if key == "" {
			continue
		}
		if !seen[key] {
			if err := ctx.Err(); err != nil {
				return Artifact{}, err
			}
			data, err := s.item(ctx, item.Item)
			if err != nil {
				return Artifact{}, err
			}
			vertices, triangles, err := ParseSTL(data)
			if err != nil {
				return Artifact{}, fmt.Errorf("parsing mesh %s: %w", key, err)
			}
			meshes = append(meshes, threemf.Mesh{Key: key, Vertices: vertices, Triangles: triangles})
			seen[key] = true
		}
		placements = append(placements, threemf.Placement{
			Key:         key,
			XMm:         item.XMm,
			YMm:         item.YMm,
			RotationDeg: item.Rotation,
		})
	}

	var opts []threemf.Option
	if req.BedWidthMm != nil {
		opts = append(opts, threemf.WithBedWidth(*req.BedWidthMm))
	}
	if req.BedDepthMm != nil {
		opts = append(opts, threemf.WithBedDepth(*req.BedDepthMm))
	}
	data, err := threemf.Build(req.Name, meshes, placements, opts...)
	if err != nil {
		return Artifact{}, fmt.Errorf("building 3mf: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"plate":      req.Name,
		"meshes":     len(meshes),
		"placements": len(placements),
	}).Debug("3MF plate built")
	return Artifact{Data: data, Filename: req.Name + ".3mf", MediaType: threemf.MediaType}, nil
}

func asRenderError(part string, err error) error {
	if err == nil {
		return nil
	}
	var re *RenderError
	if errors.As(err, &re) {
		return err
	}
	return &RenderError{Part: part, Err: err}
}
