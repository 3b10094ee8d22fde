// Package idgen mints pipeline, edge and node identifiers.
//
// Pipelines and edges get a prefix plus a random nanoid suffix. Nodes get
// readable per-type sequence ids such as "text-3".
package idgen

import (
	"fmt"
	"strconv"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	PipelinePrefix = "pl-"
	EdgePrefix     = "edge-"

	// alphabet omits look-alike characters so ids survive being read
	// aloud or retyped.
	alphabet = "23456789abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"
	// suffixLen gives roughly 58 bits of randomness.
	suffixLen = 10
)

// Pipeline returns a new pipeline id.
func Pipeline() (string, error) {
	return withPrefix(PipelinePrefix)
}

// Edge returns a new edge id.
func Edge() (string, error) {
	return withPrefix(EdgePrefix)
}

func withPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, suffixLen)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// IsGenerated reports whether id has the shape of an id minted with prefix.
func IsGenerated(prefix, id string) bool {
	suffix, ok := strings.CutPrefix(id, prefix)
	if !ok || len(suffix) != suffixLen {
		return false
	}
	for _, c := range suffix {
		if !strings.ContainsRune(alphabet, c) {
			return false
		}
	}
	return true
}

// NodeID returns the id of the seq-th node of a type,
// e.g. NodeID("customInput", 1) == "customInput-1".
func NodeID(nodeType string, seq int) string {
	return nodeType + "-" + strconv.Itoa(seq)
}

// ParseNodeID splits an id produced by NodeID. ok is false for ids of any
// other shape.
func ParseNodeID(id string) (nodeType string, seq int, ok bool) {
	i := strings.LastIndexByte(id, '-')
	if i <= 0 || i == len(id)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n <= 0 || id[i+1] == '+' || id[i+1] == '0' {
		return "", 0, false
	}
	return id[:i], n, true
}
