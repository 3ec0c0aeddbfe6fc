// Package parts defines the part requests the gateway accepts: single bins,
// baseplates, and plates made of several of them.
package parts

import (
	"github.com/sdko-org/gridgate/internal/jobs"
)

const (
	BinTypeHollow = "hollow"
	BinTypeSolid  = "solid"

	DefaultWallThickness = 1.2
	DefaultPlateName     = "plate"
)

// Request is any request that can be rendered into one artifact.
type Request interface {
	JobType() jobs.Type
	Validate() error
}

type Dividers struct {
	Horizontal int `json:"horizontal"`
	Vertical   int `json:"vertical"`
}

// BinRequest describes one gridfinity bin in grid units.
type BinRequest struct {
	Width         int      `json:"width"`
	Depth         int      `json:"depth"`
	Height        int      `json:"height"`
	Type          string   `json:"type"`
	WallThickness float64  `json:"wallThickness"`
	Dividers      Dividers `json:"dividers"`
	Magnets       bool     `json:"magnets"`
	Stackable     bool     `json:"stackable"`
	FingerGrabs   bool     `json:"fingerGrabs"`
	Label         string   `json:"label,omitempty"`
}

// NewBinRequest returns a bin request with every optional field defaulted.
func NewBinRequest() BinRequest {
	return BinRequest{
		Type:          BinTypeHollow,
		WallThickness: DefaultWallThickness,
		Stackable:     true,
	}
}

func (BinRequest) JobType() jobs.Type { return jobs.TypeBin }

// BaseplateRequest describes one baseplate in grid units.
type BaseplateRequest struct {
	GridWidth  int  `json:"gridWidth"`
	GridDepth  int  `json:"gridDepth"`
	HasMagnets bool `json:"hasMagnets"`
}

func (BaseplateRequest) JobType() jobs.Type { return jobs.TypeBaseplate }

// Item is the payload of one plate item. It is either a BinItem or a
// BaseplateItem.
type Item interface {
	isItem()
}

type BinItem struct {
	Bin BinRequest
}

type BaseplateItem struct {
	Baseplate BaseplateRequest
}

func (BinItem) isItem()       {}
func (BaseplateItem) isItem() {}

// PlateItem is one item of a zipped plate. Items without a payload are skipped
// when rendering.
type PlateItem struct {
	X        float64
	Y        float64
	Rotation float64
	Item     Item
}

// PlateRequest asks for a zip of one STL per item.
type PlateRequest struct {
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Items []PlateItem `json:"items"`
}

func (PlateRequest) JobType() jobs.Type { return jobs.TypePlate }

// Plate3MFItem is one placed instance on a 3MF build plate.
type Plate3MFItem struct {
	XMm      float64
	YMm      float64
	Rotation float64
	Item     Item
}

// Plate3MFRequest asks for a single 3MF container with every item placed on
// the bed.
type Plate3MFRequest struct {
	Name       string         `json:"name"`
	BedWidthMm *float64       `json:"bedWidthMm,omitempty"`
	BedDepthMm *float64       `json:"bedDepthMm,omitempty"`
	Items      []Plate3MFItem `json:"items"`
}

func (Plate3MFRequest) JobType() jobs.Type { return jobs.TypePlateContainer }
