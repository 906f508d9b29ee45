/*
Package vectorstore provides the vector index adapters behind the
collection store.

# Backends

  - ChromemIndex: embedded chromem-go database, in memory or persisted to a
    directory. No external service required.
  - QdrantIndex: Qdrant over its native gRPC API, with retries and a
    circuit breaker for transient failures.

# Record model

A collection holds records of (id, vector, text, metadata) where metadata
is a flat string map. Adapters stamp every record with an insertion
sequence under SeqKey so that GetAll and distance ties are ordered by
insertion regardless of backend. The key never leaves the adapter.

# Catalog

Neither backend returns collection-level metadata in a usable form, so
creation metadata and the vector dimension are kept in a Catalog stored
as a gob file beside the data.
*/
package vectorstore
