// Package embeddings turns short texts into vectors for theme matching.
//
// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint through
// go-openai. LocalEmbedder hashes tokens into a fixed-width vector and needs
// no network; it is selected when no embeddings API key is configured and is
// what tests use. Vectors from the two embedders are not comparable, so a
// project should not switch embedders once themes are stored.
package embeddings
