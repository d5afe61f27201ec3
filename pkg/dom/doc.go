// Package dom maintains the server-side widget tree that mirrors what
// the client is showing. Widgets live in an arena and are addressed by
// generation-checked handles, so a handle kept across a removal can
// never resolve to a recycled slot. The package also produces the two
// render forms: full-page HTML for bootstrap and incremental
// JavaScript operations for live updates.
package dom
