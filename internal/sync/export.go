package sync

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/store"
)

// FormatVersion is written in the header of every export.
const FormatVersion = "1"

// runsPerPipeline caps the validation history exported per pipeline.
const runsPerPipeline = 50

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version       string    `json:"version"`
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	PipelineCount int       `json:"pipeline_count"`
	RunCount      int       `json:"run_count"`
}

// Summary reads the pipeline and run counts from the header line of an
// export. ok is false when data does not start with a header.
func Summary(data []byte) (pipelines, runs int, ok bool) {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	var h header
	if err := json.Unmarshal(line, &h); err != nil || h.Type != "header" {
		return 0, 0, false
	}
	return h.PipelineCount, h.RunCount, true
}

// bodySum hashes an export without its header line. The header carries a
// timestamp, so two exports of unchanged data differ only there.
func bodySum(data []byte) [sha256.Size]byte {
	_, body, _ := bytes.Cut(data, []byte("\n"))
	return sha256.Sum256(body)
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ExportJSONL writes every saved pipeline as JSONL to w, sorted by id. Each
// pipeline line is followed by its most recent validation runs, oldest first.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pipelines, _, err := s.ListPipelines(ctx, model.PipelineFilter{Sort: "id"})
	if err != nil {
		return fmt.Errorf("list pipelines: %w", err)
	}
	sort.Slice(pipelines, func(i, j int) bool {
		return pipelines[i].ID < pipelines[j].ID
	})

	runs := make(map[string][]*model.ValidationRun, len(pipelines))
	total := 0
	for _, p := range pipelines {
		if err := ctx.Err(); err != nil {
			return err
		}
		rs, err := s.ListRuns(ctx, p.ID, runsPerPipeline)
		if err != nil {
			return fmt.Errorf("list runs for %s: %w", p.ID, err)
		}
		runs[p.ID] = rs
		total += len(rs)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:       FormatVersion,
		Type:          "header",
		Timestamp:     time.Now().UTC(),
		PipelineCount: len(pipelines),
		RunCount:      total,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, p := range pipelines {
		if err := encodeRecord(enc, "pipeline", p); err != nil {
			return fmt.Errorf("encode pipeline %s: %w", p.ID, err)
		}
		rs := runs[p.ID]
		for i := len(rs) - 1; i >= 0; i-- {
			if err := encodeRecord(enc, "run", rs[i]); err != nil {
				return fmt.Errorf("encode run %d: %w", rs[i].ID, err)
			}
		}
	}
	return nil
}

func encodeRecord(enc *json.Encoder, typ string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return enc.Encode(record{Type: typ, Data: data})
}

// ImportJSONL loads an export produced by ExportJSONL into s in a single
// transaction and returns the number of pipelines restored. Unknown record
// types are skipped so newer exports stay readable.
func ImportJSONL(ctx context.Context, s store.Store, r io.Reader) (int, error) {
	var pipelines []*model.Pipeline
	var runs []*model.ValidationRun

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		switch rec.Type {
		case "header":
			var h header
			if err := json.Unmarshal(raw, &h); err != nil {
				return 0, fmt.Errorf("line %d: %w", line, err)
			}
			if h.Version != FormatVersion {
				return 0, fmt.Errorf("line %d: unsupported export version %q", line, h.Version)
			}
		case "pipeline":
			var p model.Pipeline
			if err := json.Unmarshal(rec.Data, &p); err != nil {
				return 0, fmt.Errorf("line %d: %w", line, err)
			}
			if err := model.ValidatePipeline(&p); err != nil {
				return 0, fmt.Errorf("line %d: pipeline %s: %w", line, p.ID, err)
			}
			pipelines = append(pipelines, &p)
		case "run":
			var run model.ValidationRun
			if err := json.Unmarshal(rec.Data, &run); err != nil {
				return 0, fmt.Errorf("line %d: %w", line, err)
			}
			runs = append(runs, &run)
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("reading export: %w", err)
	}

	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		for _, p := range pipelines {
			if err := tx.SavePipeline(ctx, p); err != nil {
				return fmt.Errorf("save pipeline %s: %w", p.ID, err)
			}
		}
		for _, run := range runs {
			if err := tx.RecordRun(ctx, run); err != nil {
				return fmt.Errorf("record run for %s: %w", run.PipelineID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(pipelines), nil
}
