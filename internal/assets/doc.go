// Package assets loads and TTL-caches decoded media used during compositing:
// raster images, rasterized text, frames extracted from video sources, and
// programmatically composed overlay elements.
//
// Concurrent loads of the same cache key coalesce into a single in-flight
// fetch, and entries older than their TTL are evicted before reuse.
package assets
