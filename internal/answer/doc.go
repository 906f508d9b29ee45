// Package answer generates chat replies and summaries with an LLM.
//
// Ask retrieves the closest chunks of a collection and hands them to the
// model as system context. Summarize asks for a bullet point recap of a
// whole document. Both accept an optional StreamFunc for incremental
// output. Models come from langchaingo: the OpenAI chat API or a local
// ollama-compatible server.
package answer
