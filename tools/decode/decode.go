package decode

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Map decodes a JSON-shaped map into T. Wire payloads arrive as
// map[string]any after frame unmarshal; handlers want typed structs.
func Map[T any](in map[string]any) (*T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "build decoder")
	}
	if err := dec.Decode(in); err != nil {
		return nil, errors.Wrap(err, "decode payload")
	}
	return &out, nil
}
