// Package textutil provides the text normalization shared by timestamp
// anchoring, facet matching, and evidence sanitization, plus token
// fingerprints and cosine similarity.
//
// Search normalization folds typographic quotes and non-breaking spaces,
// collapses whitespace, and lowercases. Label normalization additionally
// strips combining accents so "Café" and "cafe" share a key.
package textutil
