// Package cache provides a TTL'd key-value scratch space shared by every
// platform integration: profile caches, timeline caches, transient lookups.
// A Manager adds a JSON envelope with optional expiry on top of pluggable
// Adapter backends (in-process map, filesystem, database table).
package cache

import "context"

// Adapter is a uniform get/set/delete over one storage medium. Keys are
// opaque strings scoped by caller convention (for example "profiles/<id>").
//
// Get distinguishes "key absent" (found=false, err=nil) from "storage
// unreachable" (err != nil); callers that conflate the two lose the ability
// to tell a cold cache from a broken one.
type Adapter interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
