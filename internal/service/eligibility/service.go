package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/logger"
)

// Selector produces the day's candidate population for a bucket. Exclusions
// run in a fixed order; each is independently toggleable through the run's
// configuration snapshot, and a disabled exclusion is a no-op, never an error.
type Selector struct {
	source   SourceRepository
	staged   PopulationRepository
	recorder ExclusionRecorder
}

// NewSelector creates an eligibility selector backed by the given stores.
func NewSelector(source SourceRepository, staged PopulationRepository, recorder ExclusionRecorder) *Selector {
	return &Selector{source: source, staged: staged, recorder: recorder}
}

// SelectCandidates builds the surviving population for the bucket as of the
// given date, stages it (superseding any prior rows for the same key), and
// records every excluded account in the not-sent ledger with its reason.
// Returns ErrNoCandidates when the surviving set is empty.
func (s *Selector) SelectCandidates(ctx context.Context, def domain.BucketDef, excl config.ExclusionConfig, asOf time.Time) ([]domain.AccountKey, error) {
	base, err := s.source.OldestUnpaidByAccount(ctx, def, asOf)
	if err != nil {
		return nil, fmt.Errorf("query base population: %w", err)
	}
	if len(base) == 0 {
		return nil, ErrNoCandidates
	}

	survivors := base
	var excluded []domain.NotSentEntry

	// (b) partner exclusion windows keyed by DPD range
	survivors, excluded = partitionPartnerWindows(survivors, excluded, def.Name, asOf, excl.PartnerWindows)

	// (c) hard blacklist
	if excl.Blacklist {
		flagged, err := s.source.BlacklistedAccounts(ctx, accountIDs(survivors))
		if err != nil {
			return nil, fmt.Errorf("query blacklist: %w", err)
		}
		survivors, excluded = partitionByAccount(survivors, excluded, def.Name, asOf, flagged, domain.ReasonBlacklisted)
	}

	// (d) active promise-to-pay
	if excl.PromiseToPay {
		flagged, err := s.source.ActivePromiseToPay(ctx, paymentIDs(survivors), asOf)
		if err != nil {
			return nil, fmt.Errorf("query promise-to-pay: %w", err)
		}
		survivors, excluded = partitionByPayment(survivors, excluded, def.Name, asOf, flagged, domain.ReasonPromiseToPay)
	}

	// (e) refinancing in progress
	if excl.Refinancing {
		flagged, err := s.source.ActiveRefinancing(ctx, accountIDs(survivors))
		if err != nil {
			return nil, fmt.Errorf("query refinancing: %w", err)
		}
		survivors, excluded = partitionByAccount(survivors, excluded, def.Name, asOf, flagged, domain.ReasonRefinancing)
	}

	// (f) autodebet active
	if excl.Autodebet {
		flagged, err := s.source.AutodebetActive(ctx, accountIDs(survivors))
		if err != nil {
			return nil, fmt.Errorf("query autodebet: %w", err)
		}
		survivors, excluded = partitionByAccount(survivors, excluded, def.Name, asOf, flagged, domain.ReasonAutodebet)
	}

	if len(excluded) > 0 {
		if err := s.recorder.RecordExcluded(ctx, excluded); err != nil {
			return nil, fmt.Errorf("record excluded: %w", err)
		}
	}

	if len(survivors) == 0 {
		return nil, ErrNoCandidates
	}

	for i := range survivors {
		survivors[i].BucketName = def.Name
		survivors[i].CampaignDate = asOf
	}
	if err := s.staged.Replace(ctx, def.Name, asOf, survivors); err != nil {
		return nil, fmt.Errorf("stage population: %w", err)
	}

	logger.Info("eligibility: population staged",
		"bucket", def.Name,
		"candidates", len(base),
		"excluded", len(excluded),
		"staged", len(survivors))

	keys := make([]domain.AccountKey, len(survivors))
	for i, row := range survivors {
		keys[i] = row.Key()
	}
	return keys, nil
}

func partitionPartnerWindows(rows []domain.StagedAccount, excluded []domain.NotSentEntry, bucket string, asOf time.Time, windows map[string]config.DPDWindow) ([]domain.StagedAccount, []domain.NotSentEntry) {
	if len(windows) == 0 {
		return rows, excluded
	}
	kept := rows[:0]
	for _, row := range rows {
		w, ok := windows[row.PartnerCode]
		if ok && row.DPD >= w.MinDPD && row.DPD <= w.MaxDPD {
			excluded = append(excluded, notSent(row, bucket, asOf, domain.ReasonPartnerExcluded))
			continue
		}
		kept = append(kept, row)
	}
	return kept, excluded
}

func partitionByAccount(rows []domain.StagedAccount, excluded []domain.NotSentEntry, bucket string, asOf time.Time, flagged map[string]bool, reason domain.ExclusionReason) ([]domain.StagedAccount, []domain.NotSentEntry) {
	kept := rows[:0]
	for _, row := range rows {
		if flagged[row.AccountID] {
			excluded = append(excluded, notSent(row, bucket, asOf, reason))
			continue
		}
		kept = append(kept, row)
	}
	return kept, excluded
}

func partitionByPayment(rows []domain.StagedAccount, excluded []domain.NotSentEntry, bucket string, asOf time.Time, flagged map[string]bool, reason domain.ExclusionReason) ([]domain.StagedAccount, []domain.NotSentEntry) {
	kept := rows[:0]
	for _, row := range rows {
		if flagged[row.PaymentID] {
			excluded = append(excluded, notSent(row, bucket, asOf, reason))
			continue
		}
		kept = append(kept, row)
	}
	return kept, excluded
}

func notSent(row domain.StagedAccount, bucket string, asOf time.Time, reason domain.ExclusionReason) domain.NotSentEntry {
	return domain.NotSentEntry{
		AccountID:     row.AccountID,
		PaymentID:     row.PaymentID,
		BucketName:    bucket,
		CampaignDate:  asOf,
		Reason:        reason,
		AccountStatus: row.AccountStatus,
		DPD:           row.DPD,
	}
}

func accountIDs(rows []domain.StagedAccount) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.AccountID
	}
	return ids
}

func paymentIDs(rows []domain.StagedAccount) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.PaymentID
	}
	return ids
}
