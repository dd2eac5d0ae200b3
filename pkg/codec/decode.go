package codec

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/firelite/firelite.go/pkg/models"
)

// maxSafeInteger is the largest integer magnitude that callers can rely on
// surviving every JSON hop untruncated. Wire integers beyond it decode to
// their decimal string instead of a native integer.
const maxSafeInteger = 1<<53 - 1

// DecodeOptions control value decoding.
type DecodeOptions struct {
	// ResolveReference turns a wire resource name into a document reference
	// bound to the calling client. When nil, references decode to the raw
	// resource name string.
	ResolveReference func(name string) any
}

// Decode maps a wire value back to its native form.
func Decode(v *Value, opts DecodeOptions) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("cannot decode a nil wire value")
	}
	switch {
	case len(v.NullValue) > 0:
		return nil, nil
	case v.BooleanValue != nil:
		return *v.BooleanValue, nil
	case v.IntegerValue != nil:
		return decodeInteger(*v.IntegerValue)
	case v.DoubleValue != nil:
		return *v.DoubleValue, nil
	case v.TimestampValue != nil:
		t, err := time.Parse(time.RFC3339Nano, *v.TimestampValue)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", *v.TimestampValue, err)
		}
		return t, nil
	case v.StringValue != nil:
		return *v.StringValue, nil
	case v.BytesValue != nil:
		b, err := base64.StdEncoding.DecodeString(*v.BytesValue)
		if err != nil {
			return nil, fmt.Errorf("invalid bytes value: %w", err)
		}
		return b, nil
	case v.ReferenceValue != nil:
		if opts.ResolveReference != nil {
			return opts.ResolveReference(*v.ReferenceValue), nil
		}
		return *v.ReferenceValue, nil
	case v.GeoPointValue != nil:
		return models.GeoPoint{
			Latitude:  v.GeoPointValue.Latitude,
			Longitude: v.GeoPointValue.Longitude,
		}, nil
	case v.ArrayValue != nil:
		out := make([]any, 0, len(v.ArrayValue.Values))
		for i, el := range v.ArrayValue.Values {
			dv, err := Decode(el, opts)
			if err != nil {
				return nil, fmt.Errorf("array index %d: %w", i, err)
			}
			out = append(out, dv)
		}
		return out, nil
	case v.MapValue != nil:
		return DecodeMap(v.MapValue.Fields, opts)
	}
	return nil, fmt.Errorf("wire value has no variant set")
}

// DecodeMap decodes a wire field map.
func DecodeMap(fields map[string]*Value, opts DecodeOptions) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, el := range fields {
		dv, err := Decode(el, opts)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = dv
	}
	return out, nil
}

func decodeInteger(s string) (any, error) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Out of int64 range entirely. Keep the decimal form rather than
		// silently truncating.
		return s, nil //nolint:nilerr
	}
	if i > maxSafeInteger || i < -maxSafeInteger {
		return s, nil
	}
	return i, nil
}
