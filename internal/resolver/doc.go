// Package resolver implements fetch-or-reuse resolution on top of the cache
// store: a URL is hashed into a cache key, a non-empty entry is served as a hit,
// and anything else is fetched once (coalescing concurrent callers) and written
// atomically before a handle is returned. Manager covers the bucket lifecycle
// the resolver depends on; resolve never creates buckets on its own.
package resolver
