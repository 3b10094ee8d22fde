package model

// PipelineFilter holds criteria for querying saved pipelines.
type PipelineFilter struct {
	Search    string `json:"search,omitempty"` // case-insensitive match on name
	CreatedBy string `json:"created_by,omitempty"`
	NodeType  string `json:"node_type,omitempty"` // pipelines containing a node of this type
	Sort      string `json:"sort,omitempty"`      // e.g. "-updated_at", "name"; prefix "-" = descending
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}
