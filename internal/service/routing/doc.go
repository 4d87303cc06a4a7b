// Package routing partitions a bucket's staged population into named
// sub-populations (special campaigns, A/B experiment arms, vendor splits)
// according to an ordered list of versioned routing rules. A routed
// sub-bucket becomes a first-class bucket for every downstream stage.
package routing
