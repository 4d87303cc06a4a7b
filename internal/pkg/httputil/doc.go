// Package httputil provides shared JSON response helpers for HTTP handlers,
// so every endpoint emits the same envelope and error structure.
package httputil
