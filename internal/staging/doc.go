// Package staging holds constructed payload pages in Redis between
// construction and dispatch. The cache is best-effort and TTL-bounded,
// never the system of record: a miss after the bucket was marked ready is
// an operational anomaly, because rebuilding a page behind a partially
// dispatched run could double-submit accounts to the vendor.
package staging
