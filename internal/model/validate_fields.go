package model

import (
	"errors"
	"fmt"
	"slices"
)

var errNotString = errors.New("must be a string")

// ValidateData checks node data against the field definitions of its type.
// Absent and null values pass. Keys without a definition are carried
// through untouched; the presentation layer may stash its own values there.
func ValidateData(data map[string]any, defs []FieldDef) error {
	var ve ValidationError
	for _, d := range defs {
		if val := data[d.Name]; val != nil {
			if err := ValidateFieldValue(d, val); err != nil {
				ve.add(d.Name, "%s", err)
			}
		}
	}
	return ve.err()
}

// ValidateFieldValue checks a single value against its field kind.
func ValidateFieldValue(d FieldDef, val any) error {
	if d.Kind == FieldCustom {
		return nil
	}
	if !d.Kind.IsValid() {
		return fmt.Errorf("unknown field kind %q", d.Kind)
	}
	s, ok := val.(string)
	if !ok {
		return errNotString
	}
	if d.Kind == FieldChoice && !slices.Contains(d.Options, s) {
		return fmt.Errorf("must be one of %v", d.Options)
	}
	return nil
}
