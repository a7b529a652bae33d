// Package memory stores short text chunks scoped by owner and session and
// answers relevance queries by fusing vector similarity with full-text rank.
//
// Invariants:
// - Every chunk has at most one lexical record and at most one vector record.
// - Deleting a chunk removes it from both sub-indexes.
// - Acceleration availability is probed once at construction; a native search
//   failure at query time falls back to in-process scoring, never to an error.
//
// Usage:
//
//	mgr, _ := memory.NewManager(memory.Config{DBPath: "/data/engram.db", EmbeddingProvider: provider})
//	defer mgr.Close()
//	id, _ := mgr.Add(ctx, memory.AddParams{OwnerID: "a1", Content: "likes coffee"})
//	results, _ := mgr.SearchHybrid(ctx, "a1", "coffee", nil)
//	_, _ = id, results
package memory
