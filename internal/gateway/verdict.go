package gateway

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/alfredjeanlab/pipeflow/internal/model"
)

// decodeVerdict parses a JSON verdict body. Every key must be present with
// the right JSON type; counts must be non-negative integers.
func decodeVerdict(body []byte) (model.Verdict, error) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return model.Verdict{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if m == nil {
		return model.Verdict{}, fmt.Errorf("%w: body is not an object", ErrMalformedResponse)
	}
	return verdictFromMap(m)
}

func verdictFromMap(m map[string]any) (model.Verdict, error) {
	var v model.Verdict
	var err error
	if v.NumNodes, err = count(m, "num_nodes"); err != nil {
		return model.Verdict{}, err
	}
	if v.NumEdges, err = count(m, "num_edges"); err != nil {
		return model.Verdict{}, err
	}
	dag, ok := m["is_dag"].(bool)
	if !ok {
		return model.Verdict{}, fmt.Errorf("%w: is_dag must be a boolean", ErrMalformedResponse)
	}
	v.IsDAG = dag
	return v, nil
}

func count(m map[string]any, key string) (int, error) {
	f, ok := m[key].(float64)
	if !ok || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrMalformedResponse, key)
	}
	return int(f), nil
}
