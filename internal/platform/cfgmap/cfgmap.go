// Package cfgmap provides decoding of raw config maps into typed structs.
package cfgmap

import (
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Setter is the interface a configuration struct may implement
// to set default options after decoding.
type Setter interface {
	ApplyDefaults()
}

// Decode decodes the given raw input map to the target pointer c.
// If c implements Setter, ApplyDefaults() is called automatically.
func Decode(input map[string]any, c any) error {
	config := &mapstructure.DecoderConfig{
		Result:           c,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return err
	}

	if s, ok := c.(Setter); ok {
		s.ApplyDefaults()
	}
	return nil
}

// DecodeWithUnused decodes input to c and returns any unused keys (sorted).
// Use this when the call site wants to warn about unknown config keys.
func DecodeWithUnused(input map[string]any, c any) ([]string, error) {
	var md mapstructure.Metadata
	config := &mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           c,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(input); err != nil {
		return nil, err
	}

	if s, ok := c.(Setter); ok {
		s.ApplyDefaults()
	}

	unused := append([]string(nil), md.Unused...)
	sort.Strings(unused)
	return unused, nil
}
