package content

import (
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/GyroZepelix/mithril-engine/internal/schema"
	"github.com/GyroZepelix/mithril-engine/internal/server"
)

// managedFields are set by the writer and ignored when present in a payload.
var managedFields = map[string]bool{
	schema.FieldCreatedAt:      true,
	schema.FieldUpdatedAt:      true,
	schema.FieldLastModifiedBy: true,
}

// itemKeys may appear on array items and block entries next to their fields.
var itemKeys = map[string]bool{
	schema.FieldID:   true,
	schema.FieldSort: true,
}

// ValidatePayload validates data against fields. On create, required fields
// must be present; on update missing fields are skipped. Array items are
// validated recursively and reported with their path ("sections[0].heading").
// Items without an id are new, so their required fields are enforced even on
// update. Returns all validation errors, not just the first.
func ValidatePayload(fields schema.Fields, data map[string]any, isCreate bool) []server.FieldError {
	return validateFields("", fields, data, isCreate, nil)
}

// validateFields checks data against fields. extra lists keys that are
// allowed without a field definition.
func validateFields(prefix string, fields schema.Fields, data map[string]any, isCreate bool, extra map[string]bool) []server.FieldError {
	var errs []server.FieldError

	// Reject unknown fields so field names never reach SQL unchecked.
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if _, ok := fields.Get(key); !ok && !extra[key] {
			errs = append(errs, server.FieldError{Field: prefix + key, Message: "unknown field"})
		}
	}

	for _, nf := range fields {
		if managedFields[nf.Name] {
			continue
		}
		val, present := data[nf.Name]

		if isCreate && nf.Field.Required && (!present || isEmpty(val)) {
			errs = append(errs, server.FieldError{Field: prefix + nf.Name, Message: "is required"})
			continue
		}
		if !present || val == nil {
			continue
		}

		errs = append(errs, validateFieldValue(prefix+nf.Name, nf.Name, nf.Field, val)...)
	}

	return errs
}

// validateFieldValue validates a single field value against its schema
// definition. path is the reported field path.
func validateFieldValue(path, name string, f schema.Field, val any) []server.FieldError {
	fail := func(msg string) []server.FieldError {
		return []server.FieldError{{Field: path, Message: msg}}
	}

	switch v := schema.Classify(name, f).(type) {
	case schema.ArrayField:
		list, ok := val.([]any)
		if !ok {
			return fail("must be a list")
		}
		var errs []server.FieldError
		for i, raw := range list {
			item, ok := raw.(map[string]any)
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			if !ok {
				errs = append(errs, server.FieldError{Field: itemPath, Message: "must be an object"})
				continue
			}
			_, hasID := item[schema.FieldID]
			errs = append(errs, validateFields(itemPath+".", v.Items, item, !hasID, itemKeys)...)
		}
		return errs

	case schema.FileField:
		if list, ok := val.([]any); ok {
			if !v.Multiple && len(list) > 1 {
				return fail("must be a single file")
			}
			for _, item := range list {
				if !isIDLike(item) {
					return fail("must reference files by id")
				}
			}
			return nil
		}
		if !isIDLike(val) {
			return fail("must reference a file by id")
		}
		return nil

	case schema.RelationField:
		if v.ManyToMany {
			list, ok := val.([]any)
			if !ok {
				return fail("must be a list of ids")
			}
			for _, item := range list {
				if !isIDLike(item) {
					return fail("must be a list of ids")
				}
			}
			return nil
		}
		if _, ok := relationID(val); !ok {
			return fail("must be an id")
		}
		return nil

	case schema.TagsField:
		switch t := val.(type) {
		case string:
			return nil
		case []any:
			for _, item := range t {
				if _, ok := item.(string); !ok {
					return fail("must be a list of strings")
				}
			}
			return nil
		}
		return fail("must be a list of strings")
	}

	return validateScalar(path, f, val)
}

func validateScalar(path string, f schema.Field, val any) []server.FieldError {
	fail := func(msg string) []server.FieldError {
		return []server.FieldError{{Field: path, Message: msg}}
	}

	switch {
	case f.Type.IsText():
		s, ok := val.(string)
		if !ok {
			return fail("must be a string")
		}
		if errs := validateFormat(path, f.Type, s); len(errs) > 0 {
			return errs
		}
		return validateStringConstraints(path, f, s)

	case f.Type.IsChoice():
		s, ok := val.(string)
		if !ok {
			return fail("must be a string")
		}
		if len(f.Options) > 0 && !slices.Contains(f.Options, s) {
			return fail(fmt.Sprintf("must be one of: %s", strings.Join(f.Options, ", ")))
		}

	case f.Type == schema.FieldTypeInteger:
		n, ok := toFloat64(val)
		if !ok {
			return fail("must be a number")
		}
		if n != math.Trunc(n) {
			return fail("must be an integer")
		}
		return validateNumericConstraints(path, f, n)

	case f.Type == schema.FieldTypeNumber:
		n, ok := toFloat64(val)
		if !ok {
			return fail("must be a number")
		}
		return validateNumericConstraints(path, f, n)

	case f.Type == schema.FieldTypeBoolean:
		if _, ok := toBool(val); !ok {
			return fail("must be a boolean")
		}

	case f.Type == schema.FieldTypeDate:
		if _, ok := toTime(val); !ok {
			return fail("must be a valid date (YYYY-MM-DD)")
		}

	case f.Type == schema.FieldTypeDatetime:
		if _, ok := toTime(val); !ok {
			return fail("must be a valid datetime (RFC 3339)")
		}

	case f.Type == schema.FieldTypeArray:
		if _, ok := val.([]any); !ok {
			return fail("must be a list")
		}

	case f.Type == schema.FieldTypeObject:
		if _, ok := val.(map[string]any); !ok {
			return fail("must be an object")
		}
	}

	// json accepts any value; it already parsed from JSON input.
	return nil
}

func validateFormat(path string, t schema.FieldType, s string) []server.FieldError {
	if s == "" {
		return nil
	}
	switch t {
	case schema.FieldTypeEmail:
		if _, err := mail.ParseAddress(s); err != nil {
			return []server.FieldError{{Field: path, Message: "must be a valid email address"}}
		}
	case schema.FieldTypeURL:
		if _, err := url.ParseRequestURI(s); err != nil {
			return []server.FieldError{{Field: path, Message: "must be a valid URL"}}
		}
	}
	return nil
}

// validateStringConstraints checks min_length, max_length, and regex on a string value.
func validateStringConstraints(path string, f schema.Field, s string) []server.FieldError {
	var errs []server.FieldError
	runeCount := utf8.RuneCountInString(s)

	if f.MinLength != nil && runeCount < *f.MinLength {
		errs = append(errs, server.FieldError{
			Field:   path,
			Message: fmt.Sprintf("must be at least %d characters", *f.MinLength),
		})
	}
	if f.MaxLength != nil && runeCount > *f.MaxLength {
		errs = append(errs, server.FieldError{
			Field:   path,
			Message: fmt.Sprintf("must be at most %d characters", *f.MaxLength),
		})
	}
	if f.Regex != "" {
		re, err := regexp.Compile(f.Regex)
		if err == nil && !re.MatchString(s) {
			errs = append(errs, server.FieldError{
				Field:   path,
				Message: fmt.Sprintf("must match pattern %s", f.Regex),
			})
		}
	}
	return errs
}

// validateNumericConstraints checks min and max on a numeric value.
func validateNumericConstraints(path string, f schema.Field, n float64) []server.FieldError {
	var errs []server.FieldError
	if f.Min != nil && n < *f.Min {
		errs = append(errs, server.FieldError{
			Field:   path,
			Message: fmt.Sprintf("must be at least %g", *f.Min),
		})
	}
	if f.Max != nil && n > *f.Max {
		errs = append(errs, server.FieldError{
			Field:   path,
			Message: fmt.Sprintf("must be at most %g", *f.Max),
		})
	}
	return errs
}

// isIDLike reports whether v is a string id or an object carrying one.
func isIDLike(v any) bool {
	switch x := v.(type) {
	case string:
		return true
	case map[string]any:
		_, ok := x["id"].(string)
		return ok
	}
	return false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	}
	return false
}
