// Package ingest turns uploaded files into collection documents.
//
// A Parser extracts text from plain text, HTML, PDF and Word files,
// optionally redacts secrets with the gitleaks rule set, counts tokens and
// picks the chat model. An Ingester stores parsed files through the
// collection store one at a time or in batches, from a TOML manifest, or
// continuously from a watched directory.
package ingest
