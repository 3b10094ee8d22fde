package model

import "strings"

// NodeSpec declares the fields and static handles of a node type.
type NodeSpec struct {
	Type    NodeType   `json:"type"`
	Title   string     `json:"title"`
	Fields  []FieldDef `json:"fields"`
	Inputs  []string   `json:"inputs,omitempty"`  // static input handle names
	Outputs []string   `json:"outputs,omitempty"` // static output handle names

	// TemplateField names the field whose {{variable}} tokens become
	// derived input ports. Empty for types without derived ports.
	TemplateField string `json:"template_field,omitempty"`
}

// LLM model choices offered by the llm node.
var LLMModels = []string{"GPT", "ChatGPT", "Claude", "Other AI"}

// Catalog lists every node type the graph store accepts.
var Catalog = map[NodeType]*NodeSpec{
	NodeTypeInput: {
		Type:  NodeTypeInput,
		Title: "Input",
		Fields: []FieldDef{
			{Name: "inputName", Kind: FieldText},
			{Name: "inputType", Kind: FieldChoice, Default: "Text", Options: []string{"Text", "File"}},
		},
		Outputs: []string{"value"},
	},
	NodeTypeOutput: {
		Type:  NodeTypeOutput,
		Title: "Output",
		Fields: []FieldDef{
			{Name: "outputName", Kind: FieldText},
			{Name: "outputType", Kind: FieldChoice, Default: "Text", Options: []string{"Text", "Image"}},
		},
		Inputs: []string{"value"},
	},
	NodeTypeLLM: {
		Type:  NodeTypeLLM,
		Title: "LLM",
		Fields: []FieldDef{
			{Name: "model", Kind: FieldChoice, Default: LLMModels[0], Options: LLMModels},
			{Name: "prompt", Kind: FieldCustom, Default: ""},
		},
		Inputs:  []string{"system", "prompt"},
		Outputs: []string{"response"},
	},
	NodeTypeText: {
		Type:  NodeTypeText,
		Title: "Text",
		Fields: []FieldDef{
			{Name: "text", Kind: FieldCustom, Default: "{{input}}"},
		},
		Outputs:       []string{"output"},
		TemplateField: "text",
	},
	NodeTypeFileLoader: {
		Type:  NodeTypeFileLoader,
		Title: "File Loader",
		Fields: []FieldDef{
			{Name: "description", Kind: FieldMultiline, Default: "Load file and parse content"},
			{Name: "fileType", Kind: FieldChoice, Default: "auto", Options: []string{"auto", "pdf", "csv", "json", "txt"}},
		},
		Inputs:  []string{"in"},
		Outputs: []string{"content"},
	},
	NodeTypeChatMemory: {
		Type:  NodeTypeChatMemory,
		Title: "Chat Memory",
		Fields: []FieldDef{
			{Name: "files", Kind: FieldCustom, Default: []any{}},
		},
		Inputs:  []string{"in"},
		Outputs: []string{"out"},
	},
	NodeTypeVectorDB: {
		Type:  NodeTypeVectorDB,
		Title: "Vector DB Reader",
		Fields: []FieldDef{
			{Name: "docSource", Kind: FieldMultiline, Default: "Upload or link document"},
			{Name: "dbName", Kind: FieldText, Default: ""},
			{Name: "dbType", Kind: FieldChoice, Default: "ElasticSearch", Options: []string{"ElasticSearch", "Pinecone", "Weaviate"}},
		},
		Inputs:  []string{"trigger"},
		Outputs: []string{"vectors"},
	},
	NodeTypeWebScraper: {
		Type:  NodeTypeWebScraper,
		Title: "Web Scraper",
		Fields: []FieldDef{
			{Name: "url", Kind: FieldText, Default: ""},
			{Name: "mode", Kind: FieldChoice, Default: "Full Page", Options: []string{"Full Page", "Article Only"}},
		},
		Inputs:  []string{"trigger"},
		Outputs: []string{"content"},
	},
	NodeTypeDataTransform: {
		Type:  NodeTypeDataTransform,
		Title: "Data Transform",
		Fields: []FieldDef{
			{Name: "mode", Kind: FieldChoice, Default: "Lowercase", Options: []string{"Lowercase", "Uppercase", "Trim"}},
			{Name: "customScript", Kind: FieldMultiline, Default: ""},
		},
		Inputs:  []string{"input"},
		Outputs: []string{"output"},
	},
}

// CatalogOrder is the order node types are presented in listings.
var CatalogOrder = []NodeType{
	NodeTypeInput,
	NodeTypeLLM,
	NodeTypeOutput,
	NodeTypeText,
	NodeTypeFileLoader,
	NodeTypeChatMemory,
	NodeTypeVectorDB,
	NodeTypeWebScraper,
	NodeTypeDataTransform,
}

// DefaultData returns the initial data for a new node of type t. Input and
// output names are derived from the node id ("customInput-1" -> "input_1").
func DefaultData(t NodeType, nodeID string) map[string]any {
	spec, ok := Catalog[t]
	if !ok {
		return map[string]any{}
	}
	data := make(map[string]any, len(spec.Fields))
	for _, f := range spec.Fields {
		if f.Default != nil {
			data[f.Name] = cloneValue(f.Default)
		}
	}
	switch t {
	case NodeTypeInput:
		data["inputName"] = strings.Replace(nodeID, string(NodeTypeInput)+"-", "input_", 1)
	case NodeTypeOutput:
		data["outputName"] = strings.Replace(nodeID, string(NodeTypeOutput)+"-", "output_", 1)
	}
	return data
}

// StaticPorts returns the type-fixed ports of a node, inputs first.
func StaticPorts(t NodeType, nodeID string) []Port {
	spec, ok := Catalog[t]
	if !ok {
		return nil
	}
	ports := make([]Port, 0, len(spec.Inputs)+len(spec.Outputs))
	for _, name := range spec.Inputs {
		ports = append(ports, Port{ID: HandleID(nodeID, name), Name: name, Direction: PortInput, Origin: PortStatic})
	}
	for _, name := range spec.Outputs {
		ports = append(ports, Port{ID: HandleID(nodeID, name), Name: name, Direction: PortOutput, Origin: PortStatic})
	}
	return ports
}
