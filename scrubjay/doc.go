// Package scrubjay implements a Discord bot that relays notable bird
// sightings from the eBird API, and entries from configured RSS/Atom
// feeds, to subscribed Discord channels.
//
// Channels subscribe to regions (optionally narrowed to a county) with
// /watch, and to feeds with /watchfeed. A delivery ledger guarantees
// each (item, channel) pair is announced at most once, across restarts:
// on startup a bootstrap reconciliation marks everything already
// matching a subscription as delivered, so a restarted bot never
// replays backlog into channels.
//
// Key components of the package include:
//
//   - ScrubJay: The main struct that wires and runs everything.
//   - EBirdIngestor / FeedIngestor: Poll upstream sources and upsert
//     items by natural key.
//   - UndeliveredQuery: Resolves subscriptions to undelivered items in
//     a single set-based query per kind.
//   - Dispatcher: Groups, renders, and sends undelivered items, then
//     records deliveries in bulk.
//   - BootstrapReconciler: Establishes the startup delivery baseline
//     and gates the dispatch loops.
//   - API: A small status/health HTTP surface.
package scrubjay

// Binary build info. Override with e.g.:
// -ldflags "-X github.com/kzbirding/ScrubJay-sub000/scrubjay.Version=$$(date +'%Y%m%d')"
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)
