package parts

import (
	"fmt"
	"strings"
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// ValidationErrors collects every invalid field of a request.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

type validator struct {
	prefix string
	errs   ValidationErrors
}

func (v *validator) field(name string) string {
	if v.prefix == "" {
		return name
	}
	if name == "" {
		return v.prefix
	}
	return v.prefix + "." + name
}

func (v *validator) intRange(name string, val, lo, hi int) {
	if val < lo || val > hi {
		v.errs = append(v.errs, &ValidationError{Field: v.field(name), Msg: fmt.Sprintf("must be between %d and %d", lo, hi)})
	}
}

func (v *validator) floatRange(name string, val, lo, hi float64) {
	if val < lo || val > hi {
		v.errs = append(v.errs, &ValidationError{Field: v.field(name), Msg: fmt.Sprintf("must be between %g and %g", lo, hi)})
	}
}

func (v *validator) oneOf(name, val string, allowed ...string) {
	for _, a := range allowed {
		if val == a {
			return
		}
	}
	v.errs = append(v.errs, &ValidationError{Field: v.field(name), Msg: fmt.Sprintf("must be one of %s", strings.Join(allowed, ", "))})
}

func (v *validator) fail(name, msg string) {
	v.errs = append(v.errs, &ValidationError{Field: v.field(name), Msg: msg})
}

func (v *validator) err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return v.errs
}

func (r BinRequest) validateInto(v *validator) {
	v.intRange("width", r.Width, 1, 10)
	v.intRange("depth", r.Depth, 1, 10)
	v.intRange("height", r.Height, 1, 20)
	v.oneOf("type", r.Type, BinTypeHollow, BinTypeSolid)
	v.floatRange("wallThickness", r.WallThickness, 0.8, 3.0)
	v.intRange("dividers.horizontal", r.Dividers.Horizontal, 0, 10)
	v.intRange("dividers.vertical", r.Dividers.Vertical, 0, 10)
}

func (r BaseplateRequest) validateInto(v *validator) {
	v.intRange("gridWidth", r.GridWidth, 1, 20)
	v.intRange("gridDepth", r.GridDepth, 1, 20)
}

func validateItem(v *validator, item Item) {
	switch it := item.(type) {
	case BinItem:
		it.Bin.validateInto(v)
	case BaseplateItem:
		it.Baseplate.validateInto(v)
	}
}

// Validate checks field ranges.
func (r BinRequest) Validate() error {
	v := &validator{}
	r.validateInto(v)
	return v.err()
}

// Validate checks field ranges.
func (r BaseplateRequest) Validate() error {
	v := &validator{}
	r.validateInto(v)
	return v.err()
}

// Validate checks the plate and every item payload.
func (r PlateRequest) Validate() error {
	v := &validator{}
	v.oneOf("type", r.Type, "baseplate", "bins", "reprint")
	if len(r.Items) == 0 {
		v.fail("items", "must contain at least one item")
	}
	for i, item := range r.Items {
		iv := &validator{prefix: fmt.Sprintf("items[%d].binData", i)}
		validateItem(iv, item.Item)
		v.errs = append(v.errs, iv.errs...)
	}
	return v.err()
}

// Validate checks the plate, the bed and every item payload.
func (r Plate3MFRequest) Validate() error {
	v := &validator{}
	if len(r.Items) == 0 {
		v.fail("items", "must contain at least one item")
	}
	if r.BedWidthMm != nil && *r.BedWidthMm <= 0 {
		v.fail("bedWidthMm", "must be positive")
	}
	if r.BedDepthMm != nil && *r.BedDepthMm <= 0 {
		v.fail("bedDepthMm", "must be positive")
	}
	for i, item := range r.Items {
		iv := &validator{prefix: fmt.Sprintf("items[%d].binData", i)}
		if item.Item == nil {
			iv.fail("", "is required")
		}
		validateItem(iv, item.Item)
		v.errs = append(v.errs, iv.errs...)
	}
	return v.err()
}
