// Package ingest is the Ingestion Pipeline (component C10): it reads a
// file, detects its language, hands the bytes to an external parser,
// converts the returned syntactic entities into CodeUnit records, and
// replaces the prior Live set for that path in one transaction. Grounded
// on the teacher's pkg/vecstore/chunker.go (ChunkMarkdown's deterministic
// sha256-derived chunk IDs), generalized from markdown-specific chunking
// to the spec's generic SyntacticEntity → CodeUnit conversion, since the
// teacher has no code-unit concept of its own.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/ids"
	"github.com/cortexd/cortexd/pkg/model"
	"github.com/cortexd/cortexd/pkg/store"
	"github.com/cortexd/cortexd/pkg/telemetry"
	"github.com/cortexd/cortexd/pkg/vecstore"
)

const component = "ingest"

// SyntacticEntity is one parsed code entity, per the external parser
// contract (spec §6): kind, name, a byte range into the source, and
// nested sub-entities (e.g. methods within a struct).
type SyntacticEntity struct {
	Kind        string
	Name        string
	ByteStart   int
	ByteEnd     int
	SubEntities []SyntacticEntity
}

// Parser converts source bytes for a detected language into a flat or
// nested list of syntactic entities. Errors are non-fatal per spec §6;
// a parser may return partial entities alongside an error.
type Parser func(sourceBytes []byte, language string) ([]SyntacticEntity, error)

// Sink receives newly-Live code units for downstream vector indexing.
// pkg/sync.IngestSink adapts a pkg/sync.Manager to this interface.
type Sink interface {
	Upsert(ctx context.Context, entity model.SyncEntity) error
}

// Result reports one ingest_file call's outcome.
type Result struct {
	UnitsStored int
	Duration    time.Duration
	Errors      []string
}

type Pipeline struct {
	store    *store.Store
	parse    Parser
	sink     Sink
	embedder vecstore.Embedder
	detect   func(path string) string
}

func New(s *store.Store, parse Parser, sink Sink) *Pipeline {
	return &Pipeline{store: s, parse: parse, sink: sink, detect: detectLanguage}
}

// WithEmbedder attaches an embedding source, so every unit forwarded to
// the sink carries a Vector the vector index can upsert. Without one,
// units forward with a nil Vector, which pkg/sync.Manager still upserts
// verbatim (a zero-length embedding, accepted but useless for search).
func (p *Pipeline) WithEmbedder(e vecstore.Embedder) *Pipeline {
	p.embedder = e
	return p
}

// detectLanguage maps a file extension to a parser language tag. Unknown
// extensions fall through to "text", which parsers are free to reject.
func detectLanguage(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".rs":
		return "rust"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".md", ".markdown":
		return "markdown"
	default:
		return "text"
	}
}

// IngestFile reads path, parses it, and replaces the workspace's Live
// units for that path with the newly parsed set inside one transaction.
func (p *Pipeline) IngestFile(ctx context.Context, workspaceID ids.WorkspaceID, path string) (Result, error) {
	start := time.Now()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, errs.NotFound("ingest.ingest_file", err)
	}

	language := p.detect(path)
	entities, parseErr := p.parse(raw, language)

	var result Result
	if parseErr != nil {
		result.Errors = append(result.Errors, parseErr.Error())
	}

	units := flatten(workspaceID, path, raw, entities)

	if err := p.store.ReplaceUnits(ctx, workspaceID, path, units); err != nil {
		return result, errs.Transient("ingest.ingest_file", err)
	}
	result.UnitsStored = len(units)

	if p.sink != nil {
		vectors := p.embedUnits(ctx, raw, units)
		for i, u := range units {
			entity := model.SyncEntity{
				ID:          u.ID,
				EntityType:  "code_unit",
				Vector:      vectors[i],
				Metadata:    map[string]string{"path": u.Path, "kind": u.Kind, "name": u.Name, "content_hash": u.ContentHash},
				Timestamp:   u.ParsedAt,
				WorkspaceID: workspaceID,
			}
			if err := p.sink.Upsert(ctx, entity); err != nil {
				telemetry.WarnCF(component, "sync forward failed", err, telemetry.Fields{"unit_id": u.ID})
				result.Errors = append(result.Errors, err.Error())
			}
		}
	}

	result.Duration = time.Since(start)
	telemetry.InfoCF(component, "file ingested", telemetry.Fields{"path": path, "units_stored": result.UnitsStored, "errors": len(result.Errors)})
	return result, nil
}

// embedUnits returns one embedding per unit, parallel to units, computed
// in a single batch call to the embedder. Without an embedder, or on a
// failed call, it returns all-nil vectors rather than failing the
// ingest: a unit missing its embedding still gets a primary-store record,
// just no vector-search hit until the next successful re-ingest.
func (p *Pipeline) embedUnits(ctx context.Context, raw []byte, units []model.CodeUnit) [][]float32 {
	vectors := make([][]float32, len(units))
	if p.embedder == nil || len(units) == 0 {
		return vectors
	}

	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = string(sliceOrEmpty(raw, u.ByteStart, u.ByteEnd))
	}

	embedded, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		telemetry.WarnCF(component, "embedding failed", err, telemetry.Fields{"units": len(units)})
		return vectors
	}
	copy(vectors, embedded)
	return vectors
}

// flatten walks nested syntactic entities depth-first and converts each
// to a CodeUnit, deriving a deterministic ID from (path, kind, name,
// content_hash) so re-ingesting unchanged content reuses the same unit
// identity within the path.
func flatten(workspaceID ids.WorkspaceID, path string, raw []byte, entities []SyntacticEntity) []model.CodeUnit {
	var units []model.CodeUnit
	now := time.Now()

	var walk func(es []SyntacticEntity)
	walk = func(es []SyntacticEntity) {
		for _, e := range es {
			hash := contentHash(sliceOrEmpty(raw, e.ByteStart, e.ByteEnd))
			units = append(units, model.CodeUnit{
				ID:          unitID(path, e.Kind, e.Name, hash),
				WorkspaceID: workspaceID,
				Path:        path,
				Kind:        e.Kind,
				Name:        e.Name,
				ByteStart:   e.ByteStart,
				ByteEnd:     e.ByteEnd,
				Status:      model.CodeUnitLive,
				ContentHash: hash,
				ParsedAt:    now,
			})
			if len(e.SubEntities) > 0 {
				walk(e.SubEntities)
			}
		}
	}
	walk(entities)
	return units
}

func sliceOrEmpty(raw []byte, start, end int) []byte {
	if start < 0 || end > len(raw) || start >= end {
		return nil
	}
	return raw[start:end]
}

// contentHash normalizes trailing-whitespace and blank-line noise before
// hashing, so a purely cosmetic re-save produces the same hash as the
// original content (resolves DESIGN.md's Open Question decision on
// content-hash normalization).
func contentHash(content []byte) string {
	lines := strings.Split(string(content), "\n")
	var normalized []string
	blankRun := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if trimmed == "" {
			if blankRun {
				continue
			}
			blankRun = true
		} else {
			blankRun = false
		}
		normalized = append(normalized, trimmed)
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "\n")))
	return hex.EncodeToString(sum[:])
}

func unitID(path, kind, name, hash string) string {
	sum := sha256.Sum256([]byte(path + ":" + kind + ":" + name + ":" + hash))
	return hex.EncodeToString(sum[:])[:16]
}
