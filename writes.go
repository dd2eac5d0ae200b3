package firelite

import (
	"fmt"
	"sort"
	"time"

	"github.com/firelite/firelite.go/pkg/codec"
	"github.com/firelite/firelite.go/pkg/models"
)

// A Precondition restricts when a write may be applied.
type Precondition interface {
	apply(pre *codec.Precondition) error
}

type existsPrecondition bool

func (e existsPrecondition) apply(pre *codec.Precondition) error {
	if pre.Exists != nil || pre.UpdateTime != "" {
		return fmt.Errorf("conflicting preconditions")
	}
	b := bool(e)
	pre.Exists = &b
	return nil
}

// Exists requires the document to be present.
var Exists Precondition = existsPrecondition(true)

type updateTimePrecondition time.Time

func (u updateTimePrecondition) apply(pre *codec.Precondition) error {
	if pre.Exists != nil || pre.UpdateTime != "" {
		return fmt.Errorf("conflicting preconditions")
	}
	pre.UpdateTime = time.Time(u).UTC().Format(time.RFC3339Nano)
	return nil
}

// LastUpdateTime requires the document's update time to equal t exactly.
func LastUpdateTime(t time.Time) Precondition {
	return updateTimePrecondition(t)
}

func compilePreconditions(preconds []Precondition) (*codec.Precondition, error) {
	if len(preconds) == 0 {
		return nil, nil
	}
	pre := &codec.Precondition{}
	for _, p := range preconds {
		if err := p.apply(pre); err != nil {
			return nil, err
		}
	}
	return pre, nil
}

// A SetOption changes Set from a full overwrite to a merge.
type SetOption interface {
	mergeSpec() (all bool, paths []FieldPath, err error)
}

type mergeAllOption struct{}

func (mergeAllOption) mergeSpec() (bool, []FieldPath, error) { return true, nil, nil }

// MergeAll merges every leaf field present in the payload instead of
// overwriting the document.
var MergeAll SetOption = mergeAllOption{}

type mergePathsOption []FieldPath

func (m mergePathsOption) mergeSpec() (bool, []FieldPath, error) {
	if len(m) == 0 {
		return false, nil, fmt.Errorf("merge requires at least one field path")
	}
	for i, fp := range m {
		if err := fp.validate(); err != nil {
			return false, nil, err
		}
		for j, other := range m {
			if i != j && fp.prefixOf(other) {
				return false, nil, fmt.Errorf("merge field %q overlaps %q", fp, other)
			}
		}
	}
	return false, m, nil
}

// Merge limits a Set to the given dotted field paths.
func Merge(paths ...string) SetOption {
	fps := make([]FieldPath, 0, len(paths))
	for _, p := range paths {
		fp, err := parseFieldPath(p)
		if err != nil {
			return brokenSetOption{err}
		}
		fps = append(fps, fp)
	}
	return mergePathsOption(fps)
}

// MergePaths is Merge for pre-parsed field paths.
func MergePaths(paths ...FieldPath) SetOption {
	return mergePathsOption(paths)
}

type brokenSetOption struct{ err error }

func (b brokenSetOption) mergeSpec() (bool, []FieldPath, error) { return false, nil, b.err }

// IgnoreAbsentFields makes Set silently drop models.Absent values instead of
// failing.
var IgnoreAbsentFields SetOption = ignoreAbsentOption{}

type ignoreAbsentOption struct{}

func (ignoreAbsentOption) mergeSpec() (bool, []FieldPath, error) { return false, nil, nil }

// encodedWrite is the intermediate result of the write encoders.
type encodedWrite struct {
	fields     map[string]*codec.Value
	maskPaths  []string // nil means no mask (full overwrite)
	hasMask    bool
	transforms []codec.FieldTransform
}

func (d *DocumentRef) newCreateWrite(data map[string]any) (codec.Write, error) {
	if d.err != nil {
		return codec.Write{}, d.err
	}
	ew, err := encodeSet(data, false, nil, false)
	if err != nil {
		return codec.Write{}, err
	}
	w := ew.toWrite(d.Path)
	exists := false
	w.CurrentDocument = &codec.Precondition{Exists: &exists}
	return w, nil
}

func (d *DocumentRef) newSetWrite(data map[string]any, opts []SetOption) (codec.Write, error) {
	if d.err != nil {
		return codec.Write{}, d.err
	}
	var (
		mergeAll   bool
		mergePaths []FieldPath
		lenient    bool
		haveMerge  bool
	)
	for _, opt := range opts {
		if _, ok := opt.(ignoreAbsentOption); ok {
			lenient = true
			continue
		}
		if haveMerge {
			return codec.Write{}, fmt.Errorf("at most one merge option may be given")
		}
		haveMerge = true
		all, paths, err := opt.mergeSpec()
		if err != nil {
			return codec.Write{}, err
		}
		mergeAll, mergePaths = all, paths
	}
	ew, err := encodeSet(data, mergeAll, mergePaths, lenient)
	if err != nil {
		return codec.Write{}, err
	}
	return ew.toWrite(d.Path), nil
}

func (d *DocumentRef) newUpdateWrite(data map[string]any, preconds []Precondition) (codec.Write, error) {
	if d.err != nil {
		return codec.Write{}, d.err
	}
	ew, err := encodeUpdate(data)
	if err != nil {
		return codec.Write{}, err
	}
	w := ew.toWrite(d.Path)
	pre, err := compilePreconditions(preconds)
	if err != nil {
		return codec.Write{}, err
	}
	if pre == nil {
		exists := true
		pre = &codec.Precondition{Exists: &exists}
	}
	w.CurrentDocument = pre
	return w, nil
}

func (d *DocumentRef) newDeleteWrite(preconds []Precondition) (codec.Write, error) {
	if d.err != nil {
		return codec.Write{}, d.err
	}
	pre, err := compilePreconditions(preconds)
	if err != nil {
		return codec.Write{}, err
	}
	return codec.Write{Delete: d.Path, CurrentDocument: pre}, nil
}

func (ew *encodedWrite) toWrite(docPath string) codec.Write {
	w := codec.Write{
		Update:           &codec.Document{Name: docPath, Fields: ew.fields},
		UpdateTransforms: ew.transforms,
	}
	if ew.hasMask {
		sort.Strings(ew.maskPaths)
		w.UpdateMask = &codec.DocumentMask{FieldPaths: ew.maskPaths}
	}
	return w
}

// encodeSet compiles a Set payload. Without merge the mask is omitted (full
// overwrite); with mergeAll the mask is the leaf paths of the literal
// fields; with an explicit path list only those paths are read from data.
func encodeSet(data map[string]any, mergeAll bool, mergePaths []FieldPath, lenient bool) (*encodedWrite, error) {
	if data == nil {
		return nil, fmt.Errorf("nil document data")
	}
	ew := &encodedWrite{fields: map[string]*codec.Value{}}
	enc := codec.EncodeOptions{DropAbsent: lenient}

	if len(mergePaths) > 0 {
		ew.hasMask = true
		for _, fp := range mergePaths {
			v, ok := lookupPath(data, fp)
			if !ok || models.IsAbsent(v) {
				if lenient {
					continue
				}
				return nil, fmt.Errorf("merge field %q is not present in the data", fp)
			}
			if fv, isSentinel := v.(FieldValue); isSentinel {
				if fv.kind == fvDelete {
					ew.maskPaths = append(ew.maskPaths, fp.serverPath())
					continue
				}
				ft, err := fv.toTransform(fp, enc)
				if err != nil {
					return nil, err
				}
				ew.transforms = append(ew.transforms, ft)
				continue
			}
			if err := checkNoSentinelInside(v); err != nil {
				return nil, err
			}
			wv, err := codec.Encode(v, enc)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", fp, err)
			}
			setAtPath(ew.fields, fp, wv)
			ew.maskPaths = append(ew.maskPaths, fp.serverPath())
		}
		return ew, nil
	}

	ew.hasMask = mergeAll
	if err := encodeSetMap(ew, nil, data, mergeAll, enc); err != nil {
		return nil, err
	}
	return ew, nil
}

func encodeSetMap(ew *encodedWrite, prefix FieldPath, m map[string]any, merge bool, enc codec.EncodeOptions) error {
	for k, v := range m {
		fp := append(append(FieldPath{}, prefix...), k)
		if models.IsAbsent(v) {
			if enc.DropAbsent {
				continue
			}
			return fmt.Errorf("field %q: invalid value: absent marker is not storable", fp)
		}
		if fv, ok := v.(FieldValue); ok {
			if fv.kind == fvDelete {
				if !merge {
					return fmt.Errorf("field %q: Delete is only valid in a merged set or an update", fp)
				}
				ew.maskPaths = append(ew.maskPaths, fp.serverPath())
				continue
			}
			ft, err := fv.toTransform(fp, enc)
			if err != nil {
				return err
			}
			ew.transforms = append(ew.transforms, ft)
			continue
		}
		if sub, ok := v.(map[string]any); ok && len(sub) > 0 {
			// Descend so nested sentinels compile and, under merge, the
			// mask only names the leaves that are present.
			if err := encodeSetMap(ew, fp, sub, merge, enc); err != nil {
				return err
			}
			continue
		}
		if err := checkNoSentinelInside(v); err != nil {
			return fmt.Errorf("field %q: %w", fp, err)
		}
		wv, err := codec.Encode(v, enc)
		if err != nil {
			return fmt.Errorf("field %q: %w", fp, err)
		}
		setAtPath(ew.fields, fp, wv)
		if merge {
			ew.maskPaths = append(ew.maskPaths, fp.serverPath())
		}
	}
	return nil
}

// encodeUpdate compiles an Update payload: keys are dotted field paths,
// each handled independently, masks kept verbatim rather than flattened.
func encodeUpdate(data map[string]any) (*encodedWrite, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("update requires at least one field")
	}
	ew := &encodedWrite{fields: map[string]*codec.Value{}, hasMask: true}
	enc := codec.EncodeOptions{}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fps []FieldPath
	for _, k := range keys {
		fp, err := parseFieldPath(k)
		if err != nil {
			return nil, err
		}
		if fp.isDocumentID() {
			return nil, fmt.Errorf("%q is not a writable field", fp)
		}
		for _, other := range fps {
			if fp.prefixOf(other) || other.prefixOf(fp) {
				return nil, fmt.Errorf("update paths %q and %q conflict", other, fp)
			}
		}
		fps = append(fps, fp)

		v := data[k]
		if models.IsAbsent(v) {
			return nil, fmt.Errorf("field %q: invalid value: absent marker is not storable", fp)
		}
		if fv, ok := v.(FieldValue); ok {
			if fv.kind == fvDelete {
				ew.maskPaths = append(ew.maskPaths, fp.serverPath())
				continue
			}
			ft, err := fv.toTransform(fp, enc)
			if err != nil {
				return nil, err
			}
			ew.transforms = append(ew.transforms, ft)
			continue
		}
		if err := checkNoSentinelInside(v); err != nil {
			return nil, fmt.Errorf("field %q: %w", fp, err)
		}
		wv, err := codec.Encode(v, enc)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fp, err)
		}
		setAtPath(ew.fields, fp, wv)
		ew.maskPaths = append(ew.maskPaths, fp.serverPath())
	}
	return ew, nil
}

// setAtPath nests wv into fields at fp, creating intermediate map wrappers
// as needed.
func setAtPath(fields map[string]*codec.Value, fp FieldPath, wv *codec.Value) {
	m := fields
	for _, seg := range fp[:len(fp)-1] {
		next := m[seg]
		if next == nil || next.MapValue == nil {
			next = &codec.Value{MapValue: &codec.MapValue{Fields: map[string]*codec.Value{}}}
			m[seg] = next
		}
		if next.MapValue.Fields == nil {
			next.MapValue.Fields = map[string]*codec.Value{}
		}
		m = next.MapValue.Fields
	}
	m[fp[len(fp)-1]] = wv
}

// lookupPath descends through nested maps; ok is false when any segment is
// missing.
func lookupPath(data map[string]any, fp FieldPath) (any, bool) {
	var cur any = data
	for _, seg := range fp {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// checkNoSentinelInside rejects sentinels buried inside arrays or inside
// values that are not traversed field-by-field. Sentinels are valid only as
// immediate field values.
func checkNoSentinelInside(v any) error {
	switch x := v.(type) {
	case FieldValue:
		return fmt.Errorf("%s can only be the value of a field", x.name())
	case []any:
		for _, el := range x {
			if err := checkNoSentinelInside(el); err != nil {
				return err
			}
		}
	case map[string]any:
		for _, el := range x {
			if err := checkNoSentinelInside(el); err != nil {
				return err
			}
		}
	}
	return nil
}
