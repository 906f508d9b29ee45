// Package embeddings turns text into vectors for the collection store.
//
// Three providers are available: FastEmbed (local ONNX models, requires
// CGO), TEI (a text-embeddings-inference server over HTTP) and OpenAI
// (through langchaingo). NewProvider selects one from configuration and
// infers the output dimension from the model name.
package embeddings
