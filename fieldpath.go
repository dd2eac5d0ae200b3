package firelite

import (
	"fmt"
	"strings"
)

// A FieldPath is an ordered sequence of field names addressing a (possibly
// nested) field of a document.
type FieldPath []string

// DocumentID addresses the document's own identity. It is valid only in
// ordering clauses and cursor positions, never as a data field.
var DocumentID = FieldPath{"__name__"}

// parseFieldPath splits a dotted path into segments. Dotted notation cannot
// express segments containing '.', so each resulting segment must be a
// simple identifier-like name.
func parseFieldPath(dotted string) (FieldPath, error) {
	if dotted == "" {
		return nil, fmt.Errorf("empty field path")
	}
	if strings.HasPrefix(dotted, ".") || strings.HasSuffix(dotted, ".") || strings.Contains(dotted, "..") {
		return nil, fmt.Errorf("field path %q has an empty segment", dotted)
	}
	fp := FieldPath(strings.Split(dotted, "."))
	return fp, fp.validate()
}

func (fp FieldPath) validate() error {
	if len(fp) == 0 {
		return fmt.Errorf("empty field path")
	}
	for _, seg := range fp {
		if seg == "" {
			return fmt.Errorf("field path %v has an empty segment", []string(fp))
		}
	}
	return nil
}

func (fp FieldPath) isDocumentID() bool {
	return len(fp) == 1 && fp[0] == "__name__"
}

func (fp FieldPath) equal(other FieldPath) bool {
	if len(fp) != len(other) {
		return false
	}
	for i := range fp {
		if fp[i] != other[i] {
			return false
		}
	}
	return true
}

// prefixOf reports whether fp is a prefix of other (or equal to it).
func (fp FieldPath) prefixOf(other FieldPath) bool {
	if len(fp) > len(other) {
		return false
	}
	for i := range fp {
		if fp[i] != other[i] {
			return false
		}
	}
	return true
}

// serverPath serializes the path to the wire's dotted/backtick notation.
// Segments that are not simple identifiers are wrapped in backticks, with
// backslash and backtick escaped.
func (fp FieldPath) serverPath() string {
	var b strings.Builder
	for i, seg := range fp {
		if i > 0 {
			b.WriteByte('.')
		}
		if isSimpleSegment(seg) {
			b.WriteString(seg)
			continue
		}
		b.WriteByte('`')
		for _, r := range seg {
			if r == '`' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('`')
	}
	return b.String()
}

// isSimpleSegment reports whether seg matches [A-Za-z_][A-Za-z0-9_]*.
func isSimpleSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for i, r := range seg {
		switch {
		case r == '_',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (fp FieldPath) String() string { return fp.serverPath() }
