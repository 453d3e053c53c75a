// Package simplevariant provides a reusable library for generating, storing
// and serving derived image assets ("variants") of uploaded originals, with
// pluggable repository, blob storage and cache backends.
//
// It exposes a single Service interface that answers "best URL for this image"
// queries. Lookups go through a TTL cache, fall back to the repository, probe
// the stored files and regenerate missing variants inline when needed. Images
// whose variant set is incomplete are also picked up by the idle reconciler in
// the reconcile subpackage.
//
// Implementations of repositories (memory, Postgres), blob stores (memory,
// filesystem, S3) and caches (memory, Redis) are provided under subpackages.
package simplevariant
