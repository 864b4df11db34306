package content

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ettle/strcase"

	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
)

const dateLayout = "2006-01-02"

// datetimeLayouts are tried in order when parsing datetime input.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	dateLayout,
}

// coerceScalar converts a validated payload value into the value bound for
// its column.
func coerceScalar(f schema.Field, col database.ColumnType, v any, d database.Dialect) (any, error) {
	if v == nil {
		return nil, nil
	}

	if f.Type == schema.FieldTypeRelation {
		id, ok := relationID(v)
		if !ok {
			return nil, fmt.Errorf("cannot use %T as a relation id", v)
		}
		if id == "" {
			return nil, nil
		}
		return id, nil
	}

	switch col {
	case database.ColumnBoolean:
		b, ok := toBool(v)
		if !ok {
			return nil, fmt.Errorf("cannot use %v as a boolean", v)
		}
		if d.NativeBool() {
			return b, nil
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil

	case database.ColumnInteger:
		n, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("cannot use %v as an integer", v)
		}
		return int64(n), nil

	case database.ColumnNumeric:
		n, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("cannot use %v as a number", v)
		}
		return n, nil

	case database.ColumnTimestamp:
		t, ok := toTime(v)
		if !ok {
			return nil, fmt.Errorf("cannot use %v as a date", v)
		}
		return t, nil

	case database.ColumnJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding json: %w", err)
		}
		return string(data), nil

	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
}

// normalizeScalar converts a column value read from the database into its
// API representation. Failures degrade to nil.
func normalizeScalar(f schema.Field, col database.ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch col {
	case database.ColumnBoolean:
		b, ok := toBool(v)
		if !ok {
			return nil, fmt.Errorf("unexpected boolean value %v", v)
		}
		return b, nil

	case database.ColumnInteger:
		n, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("unexpected integer value %v", v)
		}
		return int64(n), nil

	case database.ColumnNumeric:
		n, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("unexpected numeric value %v", v)
		}
		return n, nil

	case database.ColumnTimestamp:
		t, ok := toTime(v)
		if !ok {
			return v, nil
		}
		if f.Type == schema.FieldTypeDate {
			return t.Format(dateLayout), nil
		}
		return t, nil

	case database.ColumnJSON:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("decoding json: %w", err)
		}
		return out, nil

	default:
		return v, nil
	}
}

// relationID extracts a bare id from a string, an {id} object or a
// single-element list of either. An empty list yields "".
func relationID(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case map[string]any:
		id, ok := x["id"].(string)
		return strings.TrimSpace(id), ok
	case []any:
		switch len(x) {
		case 0:
			return "", true
		case 1:
			return relationID(x[0])
		}
	case []string:
		switch len(x) {
		case 0:
			return "", true
		case 1:
			return strings.TrimSpace(x[0]), true
		}
	}
	return "", false
}

// relationIDs extracts the ids of a many-to-many payload.
func relationIDs(v any) []string {
	var raw []any
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		raw = x
	case []string:
		for _, s := range x {
			raw = append(raw, s)
		}
	default:
		raw = []any{x}
	}

	ids := make([]string, 0, len(raw))
	for _, r := range raw {
		if id, ok := relationID(r); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// fileRef is one file reference of a file field payload.
type fileRef struct {
	ID  string
	Alt *string
}

// fileRefs accepts a file id, an {id, alt} object or a list of either.
func fileRefs(v any) []fileRef {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if id := strings.TrimSpace(x); id != "" {
			return []fileRef{{ID: id}}
		}
		return nil
	case map[string]any:
		id, _ := x["id"].(string)
		id = strings.TrimSpace(id)
		if id == "" {
			return nil
		}
		ref := fileRef{ID: id}
		if alt, ok := x["alt"].(string); ok && alt != "" {
			ref.Alt = &alt
		}
		return []fileRef{ref}
	case []any:
		var refs []fileRef
		for _, item := range x {
			refs = append(refs, fileRefs(item)...)
		}
		return refs
	case []string:
		var refs []fileRef
		for _, id := range x {
			refs = append(refs, fileRefs(id)...)
		}
		return refs
	}
	return nil
}

// tagNames accepts a list of names or a comma separated string.
func tagNames(v any) []string {
	switch x := v.(type) {
	case string:
		return strings.Split(x, ",")
	case []string:
		return x
	case []any:
		names := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		return names
	}
	return nil
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
		return false, false
	}
	if n, ok := toFloat64(v); ok && (n == 0 || n == 1) {
		return n == 1, true
	}
	return false, false
}

// toFloat64 converts a value to float64, handling JSON number types.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		for _, layout := range datetimeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
		// Postgres and sqlite text renderings of timestamps.
		for _, layout := range []string{"2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999Z07:00"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func toInt(v any) int {
	n, _ := toFloat64(v)
	return int(n)
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

var nonSlugChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// slugify derives a URL slug from a title, e.g. "Hello World" -> "hello-world".
func slugify(title string) string {
	return strcase.ToKebab(strings.TrimSpace(nonSlugChars.ReplaceAllString(title, " ")))
}
