package parts

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdko-org/gridgate/internal/jobs"
)

func TestDecodeBinDefaults(t *testing.T) {
	req, err := DecodeBin([]byte(`{"width": 2, "depth": 1, "height": 3}`))
	require.NoError(t, err)

	assert.Equal(t, BinTypeHollow, req.Type)
	assert.Equal(t, 1.2, req.WallThickness)
	assert.Equal(t, Dividers{}, req.Dividers)
	assert.False(t, req.Magnets)
	assert.True(t, req.Stackable)
	assert.False(t, req.FingerGrabs)
	assert.Empty(t, req.Label)
	assert.NoError(t, req.Validate())
}

func TestDecodeBinAcceptsSnakeAndCamelCase(t *testing.T) {
	snake, err := DecodeBin([]byte(`{"width": 2, "depth": 1, "height": 3, "wall_thickness": 1.5, "finger_grabs": true}`))
	require.NoError(t, err)
	camel, err := DecodeBin([]byte(`{"width": 2, "depth": 1, "height": 3, "wallThickness": 1.5, "fingerGrabs": true}`))
	require.NoError(t, err)

	assert.Equal(t, camel, snake)
	assert.Equal(t, 1.5, snake.WallThickness)
	assert.True(t, snake.FingerGrabs)
}

func TestDecodeRejectsMalformedBodies(t *testing.T) {
	for name, body := range map[string]string{
		"not json":     `{"width":`,
		"not object":   `[1, 2]`,
		"wrong type":   `{"items": "many"}`,
		"bad itemType": `{"items": [{"itemType": "lid", "binData": {}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePlate([]byte(body))
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve), "got %v", err)
		})
	}
}

func TestValidateBinRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*BinRequest)
		field  string
	}{
		{"zero width", func(r *BinRequest) { r.Width = 0 }, "width"},
		{"oversized", func(r *BinRequest) { r.Width = 11 }, "width"},
		{"too tall", func(r *BinRequest) { r.Height = 21 }, "height"},
		{"thin wall", func(r *BinRequest) { r.WallThickness = 0.5 }, "wallThickness"},
		{"invalid type", func(r *BinRequest) { r.Type = "magical" }, "type"},
		{"too many dividers", func(r *BinRequest) { r.Dividers.Vertical = 11 }, "dividers.vertical"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewBinRequest()
			req.Width, req.Depth, req.Height = 1, 1, 1
			tt.mutate(&req)

			err := req.Validate()
			var errs ValidationErrors
			require.True(t, errors.As(err, &errs))
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidateBaseplate(t *testing.T) {
	assert.NoError(t, BaseplateRequest{GridWidth: 5, GridDepth: 4}.Validate())
	assert.Error(t, BaseplateRequest{GridWidth: 0, GridDepth: 1}.Validate())
}

func TestDecodePlateItems(t *testing.T) {
	req, err := DecodePlate([]byte(`{
		"name": "test-plate",
		"type": "bins",
		"items": [
			{"x": 0, "y": 0, "rotation": 0, "itemType": "bin",
			 "binData": {"width": 2, "depth": 1, "height": 3, "wallThickness": 1.5, "fingerGrabs": true}},
			{"x": 42, "itemType": "baseplate", "binData": {"gridWidth": 5, "gridDepth": 4, "hasMagnets": true}},
			{"itemType": "bin"}
		]
	}`))
	require.NoError(t, err)
	require.NoError(t, req.Validate())
	require.Len(t, req.Items, 3)

	bin, ok := req.Items[0].Item.(BinItem)
	require.True(t, ok)
	assert.Equal(t, 2, bin.Bin.Width)
	assert.Equal(t, 1.5, bin.Bin.WallThickness)
	assert.True(t, bin.Bin.FingerGrabs)
	assert.True(t, bin.Bin.Stackable, "nested bins get defaults too")

	bp, ok := req.Items[1].Item.(BaseplateItem)
	require.True(t, ok)
	assert.Equal(t, BaseplateRequest{GridWidth: 5, GridDepth: 4, HasMagnets: true}, bp.Baseplate)
	assert.Equal(t, 42.0, req.Items[1].X)

	assert.Nil(t, req.Items[2].Item)
}

func TestDecodePlateDefaults(t *testing.T) {
	req, err := DecodePlate([]byte(`{"items": [{"itemType": "bin", "binData": {"width": 1, "depth": 1, "height": 2}}]}`))
	require.NoError(t, err)

	assert.Equal(t, "plate", req.Name)
	assert.Equal(t, "bins", req.Type)
	assert.Equal(t, jobs.TypePlate, req.JobType())
}

func TestPlateWithoutItemsIsInvalid(t *testing.T) {
	req, err := DecodePlate([]byte(`{"name": "empty"}`))
	require.NoError(t, err)
	assert.Error(t, req.Validate())

	req3, err := DecodePlate3MF([]byte(`{"name": "empty"}`))
	require.NoError(t, err)
	assert.Error(t, req3.Validate())
}

func TestDecodePlate3MF(t *testing.T) {
	req, err := DecodePlate3MF([]byte(`{
		"name": "async-plate",
		"bedWidthMm": 220,
		"items": [{"itemType": "bin", "binData": {"width": 1, "depth": 1, "height": 2}, "xMm": 21, "y_mm": 22, "rotation": 90}]
	}`))
	require.NoError(t, err)
	require.NoError(t, req.Validate())

	require.NotNil(t, req.BedWidthMm)
	assert.Equal(t, 220.0, *req.BedWidthMm)
	assert.Nil(t, req.BedDepthMm)
	require.Len(t, req.Items, 1)
	assert.Equal(t, 21.0, req.Items[0].XMm)
	assert.Equal(t, 22.0, req.Items[0].YMm)
	assert.Equal(t, 90.0, req.Items[0].Rotation)
	assert.Equal(t, jobs.TypePlateContainer, req.JobType())
}

func TestPlate3MFItemRequiresPayload(t *testing.T) {
	_, err := DecodePlate3MF([]byte(`{"name": "bad", "items": [{"itemType": "bin"}]}`))

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "binData", ve.Field)
}

func TestPlateItemValidationIsPrefixed(t *testing.T) {
	req, err := DecodePlate3MF([]byte(`{"items": [{"itemType": "bin", "binData": {"width": 0, "depth": 1, "height": 2}}]}`))
	require.NoError(t, err)

	var errs ValidationErrors
	require.True(t, errors.As(req.Validate(), &errs))
	assert.Equal(t, "items[0].binData.width", errs[0].Field)
}

func TestFingerprintIsDeterministic(t *testing.T) {
	a, err := DecodeBin([]byte(`{"width": 2, "depth": 1, "height": 3, "magnets": true}`))
	require.NoError(t, err)
	b, err := DecodeBin([]byte(`{"magnets": true, "height": 3, "depth": 1, "width": 2}`))
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Regexp(t, "^bin-[0-9a-f]{16}$", a.Fingerprint())

	b.Magnets = false
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintPrefixesKind(t *testing.T) {
	bp := BaseplateRequest{GridWidth: 3, GridDepth: 3}

	assert.Regexp(t, "^baseplate-[0-9a-f]{16}$", bp.Fingerprint())
	assert.Equal(t, bp.Fingerprint(), ItemFingerprint(BaseplateItem{Baseplate: bp}))
	assert.Empty(t, ItemFingerprint(nil))
}

func TestBinFilename(t *testing.T) {
	base := NewBinRequest()
	base.Width, base.Depth, base.Height = 2, 1, 3
	assert.Equal(t, "bin-2x1x3-hollow.stl", BinFilename(base, -1))

	solid := base
	solid.Width, solid.Depth, solid.Height = 1, 1, 2
	solid.Type = BinTypeSolid
	assert.Equal(t, "bin-1x1x2-solid.stl", BinFilename(solid, -1))

	labelled := base
	labelled.Width, labelled.Depth = 2, 2
	labelled.Label = "Screws"
	assert.Equal(t, "bin-2x2x3-hollow-Screws.stl", BinFilename(labelled, -1))

	indexed := base
	indexed.Width, indexed.Depth, indexed.Height = 1, 1, 2
	assert.Equal(t, "bin-1x1x2-hollow-3.stl", BinFilename(indexed, 3))

	unsafe := base
	unsafe.Label = "../../etc/passwd and a very long tail"
	assert.Equal(t, "bin-2x1x3-hollow-etcpasswd and a very.stl", BinFilename(unsafe, -1))
}

func TestBaseplateFilename(t *testing.T) {
	assert.Equal(t, "baseplate-5x4.stl", BaseplateFilename(BaseplateRequest{GridWidth: 5, GridDepth: 4}))
}
