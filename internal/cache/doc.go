/*
Package cache implements the directory listing cache the filesystem layer answers
stat and listdir from, plus the shared tiers that make listings and auth tokens
visible across sessions.

# Tiers

	DirCache (per session, one directory, TTL 10s)
	    │ miss
	    ▼
	SharedTier (optional): MemcacheTier | LRUCache, wrapped in GuardedTier
	    │ miss
	    ▼
	objectstore.Store listing (prefix + "/" delimiter, paged by marker)

Shared-tier keys are "listing:<digest(endpoint, user, path)>" and
"auth-token:<digest(endpoint, user, secret)>". Values are JSON, gzip-compressed
above DefaultCompressThreshold bytes.

# Invalidation

Mutating filesystem calls Flush the parent directory. Flush drops the local
listing and deletes the shared-tier key, so other sessions refetch on their next
access instead of waiting for the TTL.
*/
package cache
