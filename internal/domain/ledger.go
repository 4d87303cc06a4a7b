package domain

import "time"

// ExclusionReason says why an account in the day's candidate set was not
// handed to a vendor.
type ExclusionReason string

const (
	ReasonBlacklisted     ExclusionReason = "blacklisted"
	ReasonPartnerExcluded ExclusionReason = "partner_excluded"
	ReasonPromiseToPay    ExclusionReason = "promise_to_pay"
	ReasonRefinancing     ExclusionReason = "refinancing_in_progress"
	ReasonAutodebet       ExclusionReason = "autodebet_active"
	ReasonEmptyPayload    ExclusionReason = "empty_payload"
	ReasonDispatchFailed  ExclusionReason = "dispatch_failed"
)

// SentEntry records one account actually handed to a vendor for a task.
// Created exactly once per dispatched account per campaign date. The
// soft-delete flag marks late cancellations (paid off after submission).
type SentEntry struct {
	ID           string     `json:"id" db:"id"`
	TaskID       string     `json:"task_id" db:"task_id"`
	AccountID    string     `json:"account_id" db:"account_id"`
	PaymentID    string     `json:"payment_id" db:"payment_id"`
	BucketName   string     `json:"bucket_name" db:"bucket_name"`
	Vendor       Vendor     `json:"vendor" db:"vendor"`
	VendorTaskID string     `json:"vendor_task_id" db:"vendor_task_id"`
	Page         int        `json:"page" db:"page"`
	SortOrder    int        `json:"sort_order" db:"sort_order"`
	CampaignDate time.Time  `json:"campaign_date" db:"campaign_date"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// NotSentEntry records one candidate account deliberately excluded from
// dispatch, with the reason and a snapshot of its state for audit.
type NotSentEntry struct {
	ID            string          `json:"id" db:"id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	PaymentID     string          `json:"payment_id" db:"payment_id"`
	BucketName    string          `json:"bucket_name" db:"bucket_name"`
	CampaignDate  time.Time       `json:"campaign_date" db:"campaign_date"`
	Reason        ExclusionReason `json:"reason" db:"reason"`
	AccountStatus string          `json:"account_status" db:"account_status"`
	DPD           int             `json:"dpd" db:"dpd"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
