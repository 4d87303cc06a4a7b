// Package eligibility selects the candidate population for a bucket and
// campaign date, applying the configured hard exclusions in a fixed order
// and staging the survivors for downstream construction.
package eligibility
