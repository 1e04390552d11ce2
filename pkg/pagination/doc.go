// Package pagination implements keyset (cursor based) pagination over any
// store that supports range predicates and a stable multi-field sort.
//
// A SortSpec names the fields a listing is ordered by and how to read them
// from a loaded record. The Executor fetches one page at a time: it decodes
// the client's opaque cursor into a Position, turns it into a seek predicate
// ("strictly after this position") with Seek, and asks the store for one
// record more than the page size to learn whether another page exists.
// Store adapters translate the store-neutral Predicate tree into their own
// query language.
//
// On top of the executor sit the Orchestrator (pages with prefetch hints for
// infinite scroll), BatchStream (record-by-record scans over a monotonic key
// for exports and backfills) and OffsetPaginator (legacy page/limit
// listings with totals).
package pagination
