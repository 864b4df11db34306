package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// NamedField pairs a field with its key in the enclosing mapping.
type NamedField struct {
	Name  string
	Field Field
}

// Fields is an ordered field mapping. It decodes from a YAML or JSON object
// and keeps the declaration order, so generated tables, columns and configs
// are stable across runs.
type Fields []NamedField

// Get returns the field called name.
func (fs Fields) Get(name string) (Field, bool) {
	for _, nf := range fs {
		if nf.Name == name {
			return nf.Field, true
		}
	}
	return Field{}, false
}

// Names returns the field names in order.
func (fs Fields) Names() []string {
	names := make([]string, len(fs))
	for i, nf := range fs {
		names[i] = nf.Name
	}
	return names
}

// UnmarshalYAML decodes a mapping node, rejecting duplicate keys and unknown
// field properties.
func (fs *Fields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: fields must be a mapping of name to definition", node.Line)
	}

	out := make(Fields, 0, len(node.Content)/2)
	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if seen[key.Value] {
			return fmt.Errorf("line %d: field %q is defined more than once", key.Line, key.Value)
		}
		seen[key.Value] = true

		var f Field
		if err := decodeStrict(value, &f); err != nil {
			return fmt.Errorf("line %d: field %q: %w", key.Line, key.Value, err)
		}
		out = append(out, NamedField{Name: key.Value, Field: f})
	}

	*fs = out
	return nil
}

// decodeStrict decodes node into out with unknown keys rejected. yaml.v3
// does not carry KnownFields into Node.Decode, so the node is re-encoded.
func decodeStrict(node *yaml.Node, out any) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// MarshalJSON encodes the fields as a JSON object in declaration order.
func (fs Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, nf := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(nf.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(nf.Field)
		if err != nil {
			return nil, fmt.Errorf("encoding field %q: %w", nf.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order.
func (fs *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*fs = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("fields must be a JSON object, got %v", tok)
	}

	var out Fields
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected field key %v", tok)
		}
		var f Field
		if err := dec.Decode(&f); err != nil {
			return fmt.Errorf("decoding field %q: %w", name, err)
		}
		out = append(out, NamedField{Name: name, Field: f})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*fs = out
	return nil
}
