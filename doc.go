// Package dossier is a per-user, entity-scoped long-term memory engine for
// conversational agents.
//
// Facts distilled from conversation are persisted as embedding vectors plus
// structured metadata (who said it, who it is about). Recall restricts the
// similarity search to facts relevant to the asking user and to the subjects
// named in the query, so two users talking about two different people called
// "Sarah" never see each other's facts.
//
// # Packages
//
// The root package defines the contracts shared by every component:
//
//   - [Provider]: chat completion backend
//   - [EmbeddingProvider]: text-to-vector embedding
//   - [ChatMessage], [ChatRequest], [ChatResponse]: the LLM wire model
//   - [WithRetry], [WithEmbeddingRetry]: backoff on transient HTTP failures
//   - [Tracer]: optional spans around pipeline stages
//
// Feature packages:
//
//   - memory: vector store, fact log, scoped recall, identity signatures
//   - memory/sqlite: SQLite-backed fact log
//   - agent: request pipeline, command bus, per-user dossiers
//   - cards: persona, ability and engine prompt cards
//   - provider/openaicompat: OpenAI-compatible chat and embedding client
//   - observer: OpenTelemetry instrumentation for providers and turns
//
// See cmd/dossier for the reference server.
package dossier
