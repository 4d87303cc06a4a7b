package domain

import "time"

// ExperimentArm names a sub-population in an A/B comparison.
type ExperimentArm string

const (
	ArmControl    ExperimentArm = "control"
	ArmExperiment ExperimentArm = "experiment"
	ArmVendorA    ExperimentArm = "vendor_a"
	ArmVendorB    ExperimentArm = "vendor_b"
)

// ExperimentAssignment records that an account was routed into a named arm
// for a given experiment and campaign date. Used for outcome analysis.
type ExperimentAssignment struct {
	ID             string        `json:"id" db:"id"`
	ExperimentName string        `json:"experiment_name" db:"experiment_name"`
	Arm            ExperimentArm `json:"arm" db:"arm"`
	AccountID      string        `json:"account_id" db:"account_id"`
	PaymentID      string        `json:"payment_id" db:"payment_id"`
	SubBucket      string        `json:"sub_bucket" db:"sub_bucket"`
	CampaignDate   time.Time     `json:"campaign_date" db:"campaign_date"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}
