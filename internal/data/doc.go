// Package data holds the two application facing ends of a session: the feed
// of items this participant proposes and the sink carrying finalized items out
// of the engine.
package data
