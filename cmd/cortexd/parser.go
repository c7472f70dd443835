package main

import (
	"fmt"
	"strings"

	"github.com/cortexd/cortexd/pkg/ingest"
	"github.com/cortexd/cortexd/pkg/vecstore"
)

// stubParser is the default pkg/ingest.Parser binding for this binary:
// the tree-sitter parser itself is an external collaborator (spec §6),
// so cortexd ships a single whole-file entity per source file until a
// real parser is wired in via configuration. Markdown is the one
// exception: ChunkMarkdown's header/paragraph splitting gives markdown
// files a much more useful default entity set than a single file-sized
// blob, so docs ingested into memory chunk the same way the teacher
// chunks documentation for its own vector store.
func stubParser(sourceBytes []byte, language string) ([]ingest.SyntacticEntity, error) {
	if language == "markdown" {
		return markdownEntities(sourceBytes), nil
	}
	return []ingest.SyntacticEntity{
		{
			Kind:      "file",
			Name:      language,
			ByteStart: 0,
			ByteEnd:   len(sourceBytes),
		},
	}, nil
}

// markdownEntities chunks markdown source with vecstore.ChunkMarkdown and
// converts each chunk to a "section" entity located by its byte offset
// in sourceBytes, rather than carrying the chunk text itself — ingest's
// flatten() recomputes content hashes from byte ranges for every kind.
func markdownEntities(sourceBytes []byte) []ingest.SyntacticEntity {
	text := string(sourceBytes)
	chunks := vecstore.ChunkMarkdown("", text, 800)

	entities := make([]ingest.SyntacticEntity, 0, len(chunks))
	searchFrom := 0
	for i, c := range chunks {
		rel := strings.Index(text[searchFrom:], c.Text)
		if rel < 0 {
			continue
		}
		start := searchFrom + rel
		entities = append(entities, ingest.SyntacticEntity{
			Kind:      "section",
			Name:      fmt.Sprintf("section-%d", i),
			ByteStart: start,
			ByteEnd:   start + len(c.Text),
		})
		searchFrom = start
	}
	return entities
}
