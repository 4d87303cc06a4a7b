// Package dispatch sends staged payload pages to the external dialer vendor
// and keeps the sent/not-sent ledgers. A page is uploaded under a
// distributed lock keyed on (bucket, page) so it is never in flight twice,
// and a page that already has ledger rows is never re-sent.
package dispatch
