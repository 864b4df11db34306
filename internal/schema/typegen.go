package schema

import (
	"bytes"
	"fmt"
	"go/format"

	"github.com/ettle/strcase"
)

// TypeDescription is the language-level shape of an entity or array item.
type TypeDescription struct {
	Name   string      `json:"name"`
	Table  string      `json:"table"`
	Fields []TypeField `json:"fields"`
}

// TypeField is one field of a TypeDescription, with Type written as a Go
// type expression.
type TypeField struct {
	Name string `json:"name"`
	JSON string `json:"json"`
	Type string `json:"type"`
}

func typeName(parts ...string) string {
	var b bytes.Buffer
	for _, p := range parts {
		b.WriteString(strcase.ToPascal(p))
	}
	return b.String()
}

// typeField describes field name of variant v. elem overrides the type for
// array fields, whose item type is generated separately.
func typeField(name string, v Variant, elem string) TypeField {
	tf := TypeField{Name: strcase.ToGoPascal(name), JSON: name}
	if elem != "" {
		tf.Type = elem
		return tf
	}

	switch v := v.(type) {
	case ScalarField:
		tf.Type = goScalarType(v.Field)
	case FileField:
		if v.Multiple {
			tf.Type = "[]File"
		} else {
			tf.Type = "*File"
		}
	case RelationField:
		if v.ManyToMany {
			tf.Type = "[]map[string]any"
		} else {
			tf.Type = "*string"
		}
	case TagsField:
		tf.Type = "[]string"
	default:
		tf.Type = "any"
	}
	return tf
}

func goScalarType(f Field) string {
	switch {
	case f.Type.IsText(), f.Type.IsChoice():
		if f.Required || f.Core {
			return "string"
		}
		return "*string"
	case f.Type == FieldTypeInteger:
		return "*int64"
	case f.Type == FieldTypeNumber:
		return "*float64"
	case f.Type == FieldTypeBoolean:
		return "*bool"
	case f.Type == FieldTypeDate, f.Type == FieldTypeDatetime:
		return "*time.Time"
	case f.Type == FieldTypeArray:
		if f.Items != nil {
			return "[]" + goElemType(f.Items.Type)
		}
		return "[]any"
	default:
		return "json.RawMessage"
	}
}

func goElemType(t FieldType) string {
	switch {
	case t.IsText(), t.IsChoice():
		return "string"
	case t == FieldTypeInteger:
		return "int64"
	case t == FieldTypeNumber:
		return "float64"
	case t == FieldTypeBoolean:
		return "bool"
	case t == FieldTypeDate, t == FieldTypeDatetime:
		return "time.Time"
	default:
		return "any"
	}
}

// RenderGo renders type descriptions as gofmt-formatted Go source in package
// pkg. A File type matching the loader's file records is always included.
func RenderGo(pkg string, types []TypeDescription) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("// Code generated by mithril generate. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", pkg)
	b.WriteString("import (\n\t\"encoding/json\"\n\t\"time\"\n)\n\n")
	b.WriteString("var (\n\t_ json.RawMessage\n\t_ time.Time\n)\n\n")

	b.WriteString("// File is a resolved file record.\n")
	b.WriteString("type File struct {\n")
	b.WriteString("\tID string `json:\"id\"`\n")
	b.WriteString("\tURL string `json:\"url\"`\n")
	b.WriteString("\tPath string `json:\"path\"`\n")
	b.WriteString("\tMimeType string `json:\"mime_type\"`\n")
	b.WriteString("\tAlt string `json:\"alt,omitempty\"`\n")
	b.WriteString("}\n")

	for _, td := range types {
		fmt.Fprintf(&b, "\n// %s is stored in %s.\n", td.Name, td.Table)
		fmt.Fprintf(&b, "type %s struct {\n", td.Name)
		for _, f := range td.Fields {
			fmt.Fprintf(&b, "\t%s %s `json:%q`\n", f.Name, f.Type, f.JSON+",omitempty")
		}
		b.WriteString("}\n")
	}

	src, err := format.Source(b.Bytes())
	if err != nil {
		return nil, fmt.Errorf("formatting generated types: %w", err)
	}
	return src, nil
}
