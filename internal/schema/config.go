package schema

import "encoding/json"

// FieldConfig is the flattened runtime description of one field, including
// fields nested inside array items (Path "sections.links.url").
type FieldConfig struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Type     FieldType `json:"type,omitempty"`
	Variant  string    `json:"variant"`
	Table    string    `json:"table"`
	Column   string    `json:"column,omitempty"`
	Target   string    `json:"target,omitempty"`
	Required bool      `json:"required,omitempty"`
	Multiple bool      `json:"multiple,omitempty"`
	Core     bool      `json:"core,omitempty"`
	Options  []string  `json:"options,omitempty"`
}

// EntityConfig is the flattened field configuration of one entity.
type EntityConfig struct {
	Kind   Kind          `json:"kind"`
	Slug   string        `json:"slug"`
	Table  string        `json:"table"`
	Fields []FieldConfig `json:"fields"`
}

// Field returns the config at path.
func (c EntityConfig) Field(path string) (FieldConfig, bool) {
	for _, f := range c.Fields {
		if f.Path == path {
			return f, true
		}
	}
	return FieldConfig{}, false
}

// MarshalConfigs encodes configs as indented JSON. Equal inputs produce
// byte-identical output.
func MarshalConfigs(configs []EntityConfig) ([]byte, error) {
	return json.MarshalIndent(configs, "", "  ")
}

// MarshalTables encodes table specifications as indented JSON.
func MarshalTables(tables []Table) ([]byte, error) {
	return json.MarshalIndent(tables, "", "  ")
}
