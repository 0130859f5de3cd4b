// Package rooms holds the room registry: the single source of truth for which
// connections are members of which room.
//
// An entry exists if and only if its member set is non-empty. Entries are
// created lazily on the first Add and deleted eagerly by the Remove that
// empties them, so client-chosen room identifiers cannot accumulate under
// churn.
package rooms
