// Package memory implements the long-term memory subsystem: a vector store
// of fact embeddings, an append-only fact log attributed by speaker and
// entity, speaker/entity-scoped recall, and identity signatures used to
// recognise returning users.
//
// [System] owns one mutex guarding the vector index, the log and the
// signatures together. The lock is held only for a single mutation or a
// read snapshot, never across a call to the language model or the embedding
// endpoint. [VectorStore] and [CSVLog] are not safe for concurrent use on
// their own; they are only touched under that lock.
//
// On disk, under the memory directory:
//
//	vectors/<id>.cbor    one CBOR map {"embedding": [...]} per record
//	memory_log.csv       id,timestamp,speaker_id,entity_id,text
//	signatures.cbor      CBOR map user_id -> mean embedding
package memory
