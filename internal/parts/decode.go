package parts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	itemTypeBin       = "bin"
	itemTypeBaseplate = "baseplate"
)

// DecodeBin decodes a bin request, filling defaults for absent fields.
func DecodeBin(data []byte) (BinRequest, error) {
	req := NewBinRequest()
	err := decode(data, &req)
	return req, err
}

// DecodeBaseplate decodes a baseplate request.
func DecodeBaseplate(data []byte) (BaseplateRequest, error) {
	var req BaseplateRequest
	err := decode(data, &req)
	return req, err
}

// DecodePlate decodes a zipped plate request.
func DecodePlate(data []byte) (PlateRequest, error) {
	req := PlateRequest{Name: DefaultPlateName, Type: "bins"}
	err := decode(data, &req)
	return req, err
}

// DecodePlate3MF decodes a 3MF plate request.
func DecodePlate3MF(data []byte) (Plate3MFRequest, error) {
	req := Plate3MFRequest{Name: DefaultPlateName}
	err := decode(data, &req)
	return req, err
}

// decode accepts snake_case and camelCase keys alike by rewriting every
// object key to camelCase before unmarshalling into dst.
func decode(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return &ValidationError{Field: "body", Msg: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if _, ok := raw.(map[string]any); !ok {
		return &ValidationError{Field: "body", Msg: "expected a JSON object"}
	}

	normalized, err := json.Marshal(camelizeKeys(raw))
	if err != nil {
		return fmt.Errorf("re-encoding request: %w", err)
	}
	if err := json.Unmarshal(normalized, dst); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return ve
		}
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return &ValidationError{Field: te.Field, Msg: fmt.Sprintf("expected %s", te.Type)}
		}
		return &ValidationError{Field: "body", Msg: err.Error()}
	}
	return nil
}

func camelizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[camelize(k)] = camelizeKeys(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = camelizeKeys(t[i])
		}
		return t
	default:
		return v
	}
}

func camelize(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}
	parts := strings.Split(key, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	return b.String()
}

type itemEnvelope struct {
	ItemType string          `json:"itemType"`
	BinData  json.RawMessage `json:"binData"`
}

func decodeItem(env itemEnvelope, required bool) (Item, error) {
	if len(env.BinData) == 0 || string(env.BinData) == "null" {
		if required {
			return nil, &ValidationError{Field: "binData", Msg: "is required"}
		}
		return nil, nil
	}

	switch env.ItemType {
	case itemTypeBin:
		bin := NewBinRequest()
		if err := json.Unmarshal(env.BinData, &bin); err != nil {
			return nil, &ValidationError{Field: "binData", Msg: err.Error()}
		}
		return BinItem{Bin: bin}, nil
	case itemTypeBaseplate:
		var bp BaseplateRequest
		if err := json.Unmarshal(env.BinData, &bp); err != nil {
			return nil, &ValidationError{Field: "binData", Msg: err.Error()}
		}
		return BaseplateItem{Baseplate: bp}, nil
	case "":
		return nil, &ValidationError{Field: "itemType", Msg: "is required"}
	default:
		return nil, &ValidationError{Field: "itemType", Msg: fmt.Sprintf("unknown item type %q", env.ItemType)}
	}
}

func (p *PlateItem) UnmarshalJSON(data []byte) error {
	var aux struct {
		itemEnvelope
		X        float64 `json:"x"`
		Y        float64 `json:"y"`
		Rotation float64 `json:"rotation"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	item, err := decodeItem(aux.itemEnvelope, false)
	if err != nil {
		return err
	}
	*p = PlateItem{X: aux.X, Y: aux.Y, Rotation: aux.Rotation, Item: item}
	return nil
}

func (p *Plate3MFItem) UnmarshalJSON(data []byte) error {
	var aux struct {
		itemEnvelope
		XMm      float64 `json:"xMm"`
		YMm      float64 `json:"yMm"`
		Rotation float64 `json:"rotation"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	item, err := decodeItem(aux.itemEnvelope, true)
	if err != nil {
		return err
	}
	*p = Plate3MFItem{XMm: aux.XMm, YMm: aux.YMm, Rotation: aux.Rotation, Item: item}
	return nil
}

func (p PlateItem) MarshalJSON() ([]byte, error) {
	itemType, data := encodeItem(p.Item)
	return json.Marshal(struct {
		X        float64 `json:"x"`
		Y        float64 `json:"y"`
		Rotation float64 `json:"rotation"`
		ItemType string  `json:"itemType,omitempty"`
		BinData  any     `json:"binData,omitempty"`
	}{p.X, p.Y, p.Rotation, itemType, data})
}

func (p Plate3MFItem) MarshalJSON() ([]byte, error) {
	itemType, data := encodeItem(p.Item)
	return json.Marshal(struct {
		XMm      float64 `json:"xMm"`
		YMm      float64 `json:"yMm"`
		Rotation float64 `json:"rotation"`
		ItemType string  `json:"itemType"`
		BinData  any     `json:"binData"`
	}{p.XMm, p.YMm, p.Rotation, itemType, data})
}

func encodeItem(item Item) (string, any) {
	switch it := item.(type) {
	case BinItem:
		return itemTypeBin, it.Bin
	case BaseplateItem:
		return itemTypeBaseplate, it.Baseplate
	default:
		return "", nil
	}
}
