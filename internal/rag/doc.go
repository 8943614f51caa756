// Package rag orchestrates the query-time pipeline over the ingested
// corpus: retrieve child chunks from the vector index, resolve their
// parent windows, rerank the parents with the generation model, assemble
// a budgeted context, generate the answer, and persist an immutable trace
// of the whole execution.
//
// # Pipeline
//
//	query
//	  │  (optional) hypothetical-answer enhancement
//	  ▼
//	Embedding Provider ── query vector
//	  ▼
//	Vector Index ── 2×top-k child matches (owner/document filters)
//	  ▼
//	Record Store ── parent chunk fetch (small-to-big)
//	  ▼
//	Generation Provider ── rerank (tolerant index parsing)
//	  ▼
//	context assembly (word budget, whole units, exact-duplicate skip)
//	  ▼
//	Generation Provider ── answer (apology fallback)
//	  ▼
//	trace persistence + confidence
//
// Every degradation path is deliberate: a failed enhancement falls back
// to the raw query, unusable rerank output keeps the retrieval order, a
// failed generation returns an apology answer, and a failed trace write
// only logs. The caller always gets a well-formed Response.
//
// The auxiliary flows Approve and Regenerate derive new traces from a
// stored one without re-running retrieval; Feedback attaches a judgment
// to an existing trace.
package rag
