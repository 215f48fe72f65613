// Package embeddings turns pattern index text into vectors for the similarity
// search.
//
// Three providers are available:
//
//   - tei: a Text Embeddings Inference server over HTTP
//   - fastembed: local ONNX models (requires a cgo build and the ONNX runtime)
//   - hash: a deterministic feature-hashing embedder with no model, for
//     development and tests
package embeddings
