// Package resync heals gaps in live delivery by periodically re-reading
// whole tables through the client and replaying every row as a change event.
// Overlap with live delivery is expected and filtered downstream.
package resync
