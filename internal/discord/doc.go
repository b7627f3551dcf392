// Package discord wraps the Discord gateway and REST API behind the
// operations the bridge needs: thread lifecycle, chunked posting, typing
// indicators, permission checks, and event fan-out onto the bus.
//
// The Client never calls back into the watchers; it raises bus events
// (message, thread_update, interaction, lifecycle) and exposes
// imperative operations. All REST traffic goes through the narrow
// restAPI seam so tests can substitute a fake; in production the seam is
// the arikawa session.
package discord
