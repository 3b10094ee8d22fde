package model

import (
	"encoding/json"
	"testing"
)

func TestNodeType_IsValid(t *testing.T) {
	for _, tc := range []struct {
		typ  NodeType
		want bool
	}{
		{NodeTypeInput, true},
		{NodeTypeOutput, true},
		{NodeTypeLLM, true},
		{NodeTypeText, true},
		{NodeTypeDataTransform, true},
		{NodeTypeUnknown, false},
		{NodeType(""), false},
		{NodeType("bogus"), false},
	} {
		if got := tc.typ.IsValid(); got != tc.want {
			t.Errorf("NodeType(%q).IsValid() = %v, want %v", tc.typ, got, tc.want)
		}
	}
}

func TestFieldKind_IsValid(t *testing.T) {
	for _, tc := range []struct {
		kind FieldKind
		want bool
	}{
		{FieldText, true},
		{FieldMultiline, true},
		{FieldChoice, true},
		{FieldCustom, true},
		{FieldKind("number"), false},
	} {
		if got := tc.kind.IsValid(); got != tc.want {
			t.Errorf("FieldKind(%q).IsValid() = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestCatalog_Consistent(t *testing.T) {
	if len(CatalogOrder) != len(Catalog) {
		t.Fatalf("CatalogOrder has %d entries, Catalog has %d", len(CatalogOrder), len(Catalog))
	}
	for _, typ := range CatalogOrder {
		spec, ok := Catalog[typ]
		if !ok {
			t.Fatalf("CatalogOrder lists %q, missing from Catalog", typ)
		}
		if spec.Type != typ {
			t.Errorf("Catalog[%q].Type = %q", typ, spec.Type)
		}
		for _, f := range spec.Fields {
			if !f.Kind.IsValid() {
				t.Errorf("%s.%s has invalid kind %q", typ, f.Name, f.Kind)
			}
			if f.Kind == FieldChoice && f.Default != nil {
				if err := ValidateFieldValue(f, f.Default); err != nil {
					t.Errorf("%s.%s default: %v", typ, f.Name, err)
				}
			}
		}
		if spec.TemplateField != "" && spec.Field(spec.TemplateField) == nil {
			t.Errorf("%s template field %q is not declared", typ, spec.TemplateField)
		}
	}
}

func TestDefaultData(t *testing.T) {
	data := DefaultData(NodeTypeInput, "customInput-1")
	if got := data["inputName"]; got != "input_1" {
		t.Errorf("inputName = %v, want input_1", got)
	}
	if got := data["inputType"]; got != "Text" {
		t.Errorf("inputType = %v, want Text", got)
	}

	data = DefaultData(NodeTypeOutput, "customOutput-7")
	if got := data["outputName"]; got != "output_7" {
		t.Errorf("outputName = %v, want output_7", got)
	}

	data = DefaultData(NodeTypeText, "text-1")
	if got := data["text"]; got != "{{input}}" {
		t.Errorf("text = %v, want {{input}}", got)
	}

	if data := DefaultData(NodeType("bogus"), "x"); len(data) != 0 {
		t.Errorf("unknown type data = %v, want empty", data)
	}
}

func TestDefaultData_NoAliasing(t *testing.T) {
	a := DefaultData(NodeTypeChatMemory, "chatMemory-1")
	a["files"] = append(a["files"].([]any), "x.txt")
	b := DefaultData(NodeTypeChatMemory, "chatMemory-2")
	if files := b["files"].([]any); len(files) != 0 {
		t.Fatalf("catalog default mutated through DefaultData: %v", files)
	}
}

func TestStaticPorts(t *testing.T) {
	ports := StaticPorts(NodeTypeLLM, "llm-1")
	want := []Port{
		{ID: "llm-1-system", Name: "system", Direction: PortInput, Origin: PortStatic},
		{ID: "llm-1-prompt", Name: "prompt", Direction: PortInput, Origin: PortStatic},
		{ID: "llm-1-response", Name: "response", Direction: PortOutput, Origin: PortStatic},
	}
	if len(ports) != len(want) {
		t.Fatalf("got %d ports, want %d", len(ports), len(want))
	}
	for i := range want {
		if ports[i] != want[i] {
			t.Errorf("port[%d] = %+v, want %+v", i, ports[i], want[i])
		}
	}
}

func TestNode_CloneDeep(t *testing.T) {
	n := &Node{
		ID:   "text-1",
		Type: NodeTypeText,
		Data: map[string]any{
			"text":   "hi",
			"nested": map[string]any{"k": []any{"a"}},
		},
		Ports: []Port{{ID: "text-1-output", Direction: PortOutput}},
	}
	c := n.Clone()
	c.Data["text"] = "changed"
	c.Data["nested"].(map[string]any)["k"].([]any)[0] = "b"
	c.Ports[0].ID = "other"

	if n.Data["text"] != "hi" {
		t.Error("clone shares top-level data")
	}
	if n.Data["nested"].(map[string]any)["k"].([]any)[0] != "a" {
		t.Error("clone shares nested data")
	}
	if n.Ports[0].ID != "text-1-output" {
		t.Error("clone shares ports")
	}
}

func TestSnapshot_RequestDefaults(t *testing.T) {
	s := &Snapshot{
		Nodes: []Node{{ID: "a"}},
		Edges: []Edge{{ID: "e1", Source: "a", Target: "a"}},
	}
	req := s.Request()
	if req.Nodes[0].Type != NodeTypeUnknown {
		t.Errorf("type = %q, want %q", req.Nodes[0].Type, NodeTypeUnknown)
	}
	if req.Nodes[0].Data == nil {
		t.Error("data should default to an empty object")
	}

	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"nodes":[{"id":"a","type":"unknown","position":{"x":0,"y":0},"data":{}}],` +
		`"edges":[{"id":"e1","source":"a","target":"a","sourceHandle":"","targetHandle":""}]}`
	if string(raw) != want {
		t.Errorf("wire body:\n got %s\nwant %s", raw, want)
	}
}

func TestPipelineRequest_Snapshot(t *testing.T) {
	req := &PipelineRequest{
		Nodes: []WireNode{{ID: "a", Type: NodeTypeLLM}, {ID: "b"}},
		Edges: []WireEdge{{ID: "e", Source: "a", Target: "b", SourceHandle: "a-response", TargetHandle: "b-value"}},
	}
	s := req.Snapshot()
	if len(s.Nodes) != 2 || len(s.Edges) != 1 {
		t.Fatalf("got %d nodes %d edges", len(s.Nodes), len(s.Edges))
	}
	if s.Nodes[1].Type != NodeTypeUnknown {
		t.Errorf("untyped node type = %q", s.Nodes[1].Type)
	}
	if n, ok := s.Node("a"); !ok || n.Type != NodeTypeLLM {
		t.Errorf("Node(a) = %+v, %v", n, ok)
	}
	if _, ok := s.Node("zzz"); ok {
		t.Error("Node(zzz) should be absent")
	}
}

func TestEdge_Helpers(t *testing.T) {
	e := Edge{Source: "a", Target: "b"}
	if !e.Touches("a") || !e.Touches("b") || e.Touches("c") {
		t.Error("Touches mismatch")
	}
	if e.IsSelfLoop() {
		t.Error("a->b is not a self-loop")
	}
	loop := Edge{Source: "a", Target: "a"}
	if !loop.IsSelfLoop() {
		t.Error("a->a is a self-loop")
	}
}
