package codec

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/firelite/firelite.go/pkg/models"
)

// Referencer is implemented by document references so the codec can encode
// them without depending on the client package.
type Referencer interface {
	// ResourceName is the full wire resource name,
	// projects/{p}/databases/{d}/documents/{path}.
	ResourceName() string
}

// EncodeOptions control value encoding.
type EncodeOptions struct {
	// DropAbsent makes models.Absent omit the surrounding field or array
	// slot instead of failing the encode.
	DropAbsent bool
}

var explicitNull = json.RawMessage("null")

// errDropField is an internal signal: the value was Absent under DropAbsent
// and its slot must be omitted entirely.
var errDropField = fmt.Errorf("drop field")

// Encode maps a native value to its wire form. Absent markers error unless
// opts.DropAbsent is set; funcs, channels and other unrepresentable kinds
// always error.
func Encode(v any, opts EncodeOptions) (*Value, error) {
	wv, err := encode(v, opts)
	if err == errDropField {
		return nil, fmt.Errorf("cannot encode an absent value at the top level")
	}
	return wv, err
}

func encode(v any, opts EncodeOptions) (*Value, error) {
	if v == nil {
		return &Value{NullValue: explicitNull}, nil
	}
	if models.IsAbsent(v) {
		if opts.DropAbsent {
			return nil, errDropField
		}
		return nil, fmt.Errorf("invalid value: absent marker is not storable")
	}

	switch x := v.(type) {
	case bool:
		return &Value{BooleanValue: &x}, nil
	case int:
		return intValue(int64(x)), nil
	case int8:
		return intValue(int64(x)), nil
	case int16:
		return intValue(int64(x)), nil
	case int32:
		return intValue(int64(x)), nil
	case int64:
		return intValue(x), nil
	case uint:
		return uintValue(uint64(x)), nil
	case uint8:
		return intValue(int64(x)), nil
	case uint16:
		return intValue(int64(x)), nil
	case uint32:
		return intValue(int64(x)), nil
	case uint64:
		return uintValue(x), nil
	case uintptr:
		return uintValue(uint64(x)), nil
	case float32:
		f := float64(x)
		return &Value{DoubleValue: &f}, nil
	case float64:
		return &Value{DoubleValue: &x}, nil
	case string:
		return &Value{StringValue: &x}, nil
	case []byte:
		s := base64.StdEncoding.EncodeToString(x)
		return &Value{BytesValue: &s}, nil
	case time.Time:
		s := x.UTC().Format(time.RFC3339Nano)
		return &Value{TimestampValue: &s}, nil
	case models.GeoPoint:
		return &Value{GeoPointValue: &LatLng{Latitude: x.Latitude, Longitude: x.Longitude}}, nil
	case *models.GeoPoint:
		if x == nil {
			return &Value{NullValue: explicitNull}, nil
		}
		return &Value{GeoPointValue: &LatLng{Latitude: x.Latitude, Longitude: x.Longitude}}, nil
	case Referencer:
		name := x.ResourceName()
		return &Value{ReferenceValue: &name}, nil
	case []any:
		return encodeArray(x, opts)
	case map[string]any:
		fields, err := EncodeMap(x, opts)
		if err != nil {
			return nil, err
		}
		return &Value{MapValue: &MapValue{Fields: fields}}, nil
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, fmt.Errorf("invalid value: cannot encode %T", v)
	}
	return nil, fmt.Errorf("invalid value: unsupported type %T", v)
}

func intValue(i int64) *Value {
	s := strconv.FormatInt(i, 10)
	return &Value{IntegerValue: &s}
}

func uintValue(u uint64) *Value {
	s := strconv.FormatUint(u, 10)
	return &Value{IntegerValue: &s}
}

func encodeArray(xs []any, opts EncodeOptions) (*Value, error) {
	av := &ArrayValue{}
	for i, el := range xs {
		wv, err := encode(el, opts)
		if err == errDropField {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("array index %d: %w", i, err)
		}
		av.Values = append(av.Values, wv)
	}
	return &Value{ArrayValue: av}, nil
}

// EncodeMap encodes a field map, dropping Absent-valued keys when allowed.
func EncodeMap(m map[string]any, opts EncodeOptions) (map[string]*Value, error) {
	fields := make(map[string]*Value, len(m))
	for k, el := range m {
		wv, err := encode(el, opts)
		if err == errDropField {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		fields[k] = wv
	}
	return fields, nil
}
