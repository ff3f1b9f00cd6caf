// Package cache defines the disk-backed blob store that keeps one directory per
// bucket under StoragePath and one file per cache key, named by the key's
// decimal form. Writes go through a temp file + rename so readers only ever see
// a complete entry, and bucket deletion can move a bucket into .trash instead
// of removing it. The package also owns cache key derivation (LegacyKey and the
// swappable KeyFunc) so the resolver never touches the filesystem directly.
package cache
