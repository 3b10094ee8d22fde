package model

import (
	"strings"
	"testing"
)

// validNode returns a Node that passes all validation rules.
func validNode() Node {
	return Node{
		ID:   "llm-1",
		Type: NodeTypeLLM,
		Data: map[string]any{"model": "Claude", "prompt": "summarise"},
	}
}

// fieldErrors extracts a *ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return ve.Errors
}

// hasFieldError reports whether the error list contains an error for the given field.
func hasFieldError(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidateNode_Valid(t *testing.T) {
	n := validNode()
	if err := ValidateNode(&n); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestValidateNode_IDRequired(t *testing.T) {
	n := validNode()
	n.ID = "  "
	errs := fieldErrors(t, ValidateNode(&n))
	if !hasFieldError(errs, "id") {
		t.Error("expected error on field 'id'")
	}
}

func TestValidateNode_UnknownType(t *testing.T) {
	for _, typ := range []NodeType{"", NodeTypeUnknown, "spreadsheet"} {
		n := validNode()
		n.Type = typ
		errs := fieldErrors(t, ValidateNode(&n))
		if !hasFieldError(errs, "type") {
			t.Errorf("type %q: expected error on field 'type'", typ)
		}
	}
}

func TestValidateNode_BadChoice(t *testing.T) {
	n := validNode()
	n.Data["model"] = "Llama"
	errs := fieldErrors(t, ValidateNode(&n))
	if !hasFieldError(errs, "data.model") {
		t.Errorf("expected error on 'data.model', got %v", errs)
	}
}

func TestValidateNode_ExtraDataKept(t *testing.T) {
	n := validNode()
	n.Data["nodeType"] = "llm"
	if err := ValidateNode(&n); err != nil {
		t.Fatalf("undeclared keys should pass, got %v", err)
	}
}

func TestValidationError_Format(t *testing.T) {
	ve := &ValidationError{Errors: []FieldError{
		{Field: "id", Message: "is required"},
		{Field: "type", Message: `invalid value "x"`},
	}}
	got := ve.Error()
	if !strings.HasPrefix(got, "validation failed: ") {
		t.Errorf("unexpected prefix: %q", got)
	}
	if !strings.Contains(got, "id: is required; type: ") {
		t.Errorf("unexpected body: %q", got)
	}
}

func TestValidatePipeline(t *testing.T) {
	p := &Pipeline{
		Name: "demo",
		Nodes: []Node{
			validNode(),
			validNode(),
			{ID: "x", Type: "bogus"},
		},
	}
	errs := fieldErrors(t, ValidatePipeline(p))
	if !hasFieldError(errs, "nodes[1].id") {
		t.Errorf("expected duplicate id error, got %v", errs)
	}
	if !hasFieldError(errs, "nodes[2].type") {
		t.Errorf("expected type error, got %v", errs)
	}

	p = &Pipeline{Name: ""}
	if !hasFieldError(fieldErrors(t, ValidatePipeline(p)), "name") {
		t.Error("expected error on 'name'")
	}

	p = &Pipeline{Name: strings.Repeat("x", 201)}
	if !hasFieldError(fieldErrors(t, ValidatePipeline(p)), "name") {
		t.Error("expected error on long 'name'")
	}
}
