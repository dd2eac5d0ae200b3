package firelite

import (
	"fmt"

	"github.com/firelite/firelite.go/pkg/codec"
)

// fieldValueKind enumerates the closed set of sentinel kinds.
type fieldValueKind int

const (
	fvDelete fieldValueKind = iota
	fvServerTimestamp
	fvArrayUnion
	fvArrayRemove
	fvIncrement
	fvMaximum
	fvMinimum
)

// FieldValue is a write-only sentinel standing in for a field transform
// inside a set or update payload. Sentinels never appear in read values.
type FieldValue struct {
	kind    fieldValueKind
	elems   []any
	operand any
}

// Delete marks a field for removal. Valid in updates and in merged sets.
var Delete = FieldValue{kind: fvDelete}

// ServerTimestamp stores the time at which the server processed the write.
var ServerTimestamp = FieldValue{kind: fvServerTimestamp}

// ArrayUnion appends the given elements to an array field, skipping ones
// already present.
func ArrayUnion(elems ...any) FieldValue {
	return FieldValue{kind: fvArrayUnion, elems: elems}
}

// ArrayRemove deletes every occurrence of the given elements from an array
// field.
func ArrayRemove(elems ...any) FieldValue {
	return FieldValue{kind: fvArrayRemove, elems: elems}
}

// Increment atomically adds n (an integer or float) to a numeric field.
func Increment(n any) FieldValue {
	return FieldValue{kind: fvIncrement, operand: n}
}

// Maximum sets the field to the larger of its current value and n.
func Maximum(n any) FieldValue {
	return FieldValue{kind: fvMaximum, operand: n}
}

// Minimum sets the field to the smaller of its current value and n.
func Minimum(n any) FieldValue {
	return FieldValue{kind: fvMinimum, operand: n}
}

func (fv FieldValue) name() string {
	switch fv.kind {
	case fvDelete:
		return "Delete"
	case fvServerTimestamp:
		return "ServerTimestamp"
	case fvArrayUnion:
		return "ArrayUnion"
	case fvArrayRemove:
		return "ArrayRemove"
	case fvIncrement:
		return "Increment"
	case fvMaximum:
		return "Maximum"
	case fvMinimum:
		return "Minimum"
	}
	return "unknown"
}

// toTransform compiles the sentinel into a wire field transform at the given
// path. Delete has no transform form and must be handled by the caller.
func (fv FieldValue) toTransform(path FieldPath, enc codec.EncodeOptions) (codec.FieldTransform, error) {
	ft := codec.FieldTransform{FieldPath: path.serverPath()}
	switch fv.kind {
	case fvServerTimestamp:
		ft.SetToServerValue = codec.ServerValueRequestTime
	case fvArrayUnion, fvArrayRemove:
		av := &codec.ArrayValue{}
		for i, el := range fv.elems {
			wv, err := codec.Encode(el, enc)
			if err != nil {
				return ft, fmt.Errorf("%s element %d: %w", fv.name(), i, err)
			}
			av.Values = append(av.Values, wv)
		}
		if fv.kind == fvArrayUnion {
			ft.AppendMissingElements = av
		} else {
			ft.RemoveAllFromArray = av
		}
	case fvIncrement, fvMaximum, fvMinimum:
		wv, err := codec.Encode(fv.operand, enc)
		if err != nil {
			return ft, fmt.Errorf("%s operand: %w", fv.name(), err)
		}
		if wv.IntegerValue == nil && wv.DoubleValue == nil {
			return ft, fmt.Errorf("%s operand must be an integer or a float, got %T", fv.name(), fv.operand)
		}
		switch fv.kind {
		case fvIncrement:
			ft.Increment = wv
		case fvMaximum:
			ft.Maximum = wv
		case fvMinimum:
			ft.Minimum = wv
		}
	default:
		return ft, fmt.Errorf("%s cannot be compiled to a transform", fv.name())
	}
	return ft, nil
}
