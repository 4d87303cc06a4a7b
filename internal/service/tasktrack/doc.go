// Package tasktrack maintains the audited state machine of a CampaignTask:
// lazy get-or-create per (bucket, vendor, date), an append-only event log,
// and the per-page completeness check that gates the terminal SENT state.
package tasktrack
