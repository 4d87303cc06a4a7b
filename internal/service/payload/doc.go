// Package payload turns one sorted page of staged accounts into the wire
// shape a specific dialer vendor accepts. Construction is a pure
// transformation: it reads nothing and writes nothing, so a page can be
// rebuilt any number of times with identical output.
package payload
