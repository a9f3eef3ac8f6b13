package device

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeviceType describes one entry of the device catalog: the 16-bit model
// class ID and the ordered parameter list (bit position == slice index).
type DeviceType struct {
	Name     string
	ID       uint16
	Params   []Parameter
}

// ReadableParams returns the subset of Params with Readable set, in
// original catalog order.
func (t DeviceType) ReadableParams() []Parameter {
	return filterParams(t.Params, func(p Parameter) bool { return p.Readable })
}

// WriteableParams returns the subset of Params with Writeable set, in
// original catalog order.
func (t DeviceType) WriteableParams() []Parameter {
	return filterParams(t.Params, func(p Parameter) bool { return p.Writeable })
}

func filterParams(params []Parameter, keep func(Parameter) bool) []Parameter {
	out := make([]Parameter, 0, len(params))
	for _, p := range params {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// Index returns the bit position of the named parameter, or -1 if unknown.
func (t DeviceType) Index(name string) int {
	for i, p := range t.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Catalog maps a device-type name to its descriptor. It is populated once
// at startup from an external text config and never mutated afterward, so
// every process may read it without synchronization.
type Catalog map[string]DeviceType

// catalogFile mirrors the on-disk YAML schema for the device catalog.
type catalogFile struct {
	Devices map[string]struct {
		ID     uint16 `yaml:"id"`
		Params []struct {
			Name      string   `yaml:"name"`
			Type      string   `yaml:"type"`
			Width     int      `yaml:"width"`
			Lower     *float64 `yaml:"lower"`
			Upper     *float64 `yaml:"upper"`
			Readable  bool     `yaml:"readable"`
			Writeable bool     `yaml:"writeable"`
		} `yaml:"params"`
	} `yaml:"devices"`
}

var kindNames = map[string]ParamKind{
	"bool":  KindBool,
	"i8":    KindI8,
	"u8":    KindU8,
	"i16":   KindI16,
	"u16":   KindU16,
	"i32":   KindI32,
	"u32":   KindU32,
	"i64":   KindI64,
	"u64":   KindU64,
	"f32":   KindF32,
	"f64":   KindF64,
	"bytes": KindBytes,
}

// LoadCatalog parses a YAML device catalog from path. See catalogFile for
// the schema.
func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("device: read catalog: %w", err)
	}
	var parsed catalogFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("device: parse catalog: %w", err)
	}
	catalog := make(Catalog, len(parsed.Devices))
	for name, entry := range parsed.Devices {
		if len(entry.Params) > MaxParams {
			return nil, fmt.Errorf("device: %q declares %d params, max is %d", name, len(entry.Params), MaxParams)
		}
		params := make([]Parameter, len(entry.Params))
		for i, raw := range entry.Params {
			kind, ok := kindNames[raw.Type]
			if !ok {
				return nil, fmt.Errorf("device: %q param %q has unknown type %q", name, raw.Name, raw.Type)
			}
			param := NewParameter(raw.Name, kind)
			param.Width = raw.Width
			param.Readable = raw.Readable
			param.Writeable = raw.Writeable
			if raw.Lower != nil {
				param.Lower = *raw.Lower
			}
			if raw.Upper != nil {
				param.Upper = *raw.Upper
			}
			params[i] = param
		}
		catalog[name] = DeviceType{Name: name, ID: entry.ID, Params: params}
	}
	return catalog, nil
}
