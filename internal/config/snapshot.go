package config

import (
	"time"

	"github.com/luminafin/campaigner/internal/domain"
)

// Snapshot is the immutable view of configuration a single construction run
// receives. It is taken once when the run starts and passed explicitly
// through the pipeline, so every stage of one run sees the same settings
// even if the live configuration changes mid-run.
type Snapshot struct {
	TakenAt time.Time

	Buckets     map[string]domain.BucketDef
	Exclusions  ExclusionConfig
	Experiments []ExperimentRule

	DispatchMaxAttempts    int
	DispatchBackoffBase    time.Duration
	DispatchBackoffMax     time.Duration
	DispatchRequestTimeout time.Duration
	DispatchLockTTL        time.Duration

	StagingTTL time.Duration
}

// Snapshot captures the current configuration as an immutable run view.
func (c *Config) Snapshot() Snapshot {
	buckets := make(map[string]domain.BucketDef, len(c.Buckets))
	for _, b := range c.Buckets {
		buckets[b.Name] = b
	}

	windows := make(map[string]DPDWindow, len(c.Exclusions.PartnerWindows))
	for k, v := range c.Exclusions.PartnerWindows {
		windows[k] = v
	}
	excl := c.Exclusions
	excl.PartnerWindows = windows

	experiments := make([]ExperimentRule, len(c.Experiments))
	copy(experiments, c.Experiments)

	return Snapshot{
		TakenAt:     time.Now().UTC(),
		Buckets:     buckets,
		Exclusions:  excl,
		Experiments: experiments,

		DispatchMaxAttempts:    c.Dispatch.MaxAttempts,
		DispatchBackoffBase:    Duration(c.Dispatch.BackoffBase, 2*time.Second),
		DispatchBackoffMax:     Duration(c.Dispatch.BackoffMax, 30*time.Second),
		DispatchRequestTimeout: Duration(c.Dispatch.RequestTimeout, 30*time.Second),
		DispatchLockTTL:        Duration(c.Dispatch.LockTTL, 10*time.Minute),

		StagingTTL: Duration(c.Staging.TTL, 6*time.Hour),
	}
}

// Bucket returns the definition for a bucket name. Routed sub-buckets are
// not configured directly; they resolve through the experiment rule that
// targets them to the parent's definition carrying the sub-bucket's name,
// so a sub-bucket can be reconstructed like any configured bucket.
func (s Snapshot) Bucket(name string) (domain.BucketDef, bool) {
	if b, ok := s.Buckets[name]; ok {
		return b, true
	}
	for _, r := range s.Experiments {
		if r.Target != name && r.ScoredTarget != name && r.UnscoredTarget != name {
			continue
		}
		if parent, ok := s.Buckets[r.Bucket]; ok {
			parent.Name = name
			return parent, true
		}
	}
	return domain.BucketDef{}, false
}
