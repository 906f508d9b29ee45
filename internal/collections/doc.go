/*
Package collections turns a flat vector index into named collections of
documents.

A document is never stored as such. It is the set of chunk records whose
document_id metadata (or, for older records, whose "{doc}_chunk_{i}" key)
names it, and it is rebuilt by scanning the collection.

Collection names from callers are always passed through
sanitize.CollectionName first, so two raw names that sanitize to the same
identifier address the same collection.

Renames copy then delete and are journaled so that a rename cut short can
be finished or undone by ResumeRenames.
*/
package collections
