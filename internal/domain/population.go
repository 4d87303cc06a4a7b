package domain

import "time"

// AccountKey identifies the oldest unpaid obligation of one account. The
// PaymentID is the unit the pipeline operates on; AccountID groups payments
// belonging to the same borrower.
type AccountKey struct {
	AccountID string `json:"account_id"`
	PaymentID string `json:"payment_id"`
}

// BucketDef describes one named segment of the delinquent population,
// either a DPD range or a named product bucket.
type BucketDef struct {
	Name        string `yaml:"name" json:"name"`
	MinDPD      int    `yaml:"min_dpd" json:"min_dpd"`
	MaxDPD      int    `yaml:"max_dpd" json:"max_dpd"`
	ProductType string `yaml:"product_type,omitempty" json:"product_type,omitempty"`
	Vendor      Vendor `yaml:"vendor" json:"vendor"`
	PageSize    int    `yaml:"page_size" json:"page_size"`
}

// StagedAccount is one row of the day's working population for a bucket.
// Exactly one live row exists per (payment, date); repopulating a bucket for
// a new day supersedes the previous day's rows.
type StagedAccount struct {
	AccountID     string    `json:"account_id" db:"account_id"`
	PaymentID     string    `json:"payment_id" db:"payment_id"`
	BucketName    string    `json:"bucket_name" db:"bucket_name"`
	CampaignDate  time.Time `json:"campaign_date" db:"campaign_date"`
	FullName      string    `json:"full_name" db:"full_name"`
	PhoneNumber   string    `json:"phone_number" db:"phone_number"`
	DPD           int       `json:"dpd" db:"dpd"`
	Outstanding   float64   `json:"outstanding" db:"outstanding"`
	DueDate       time.Time `json:"due_date" db:"due_date"`
	ProductType   string    `json:"product_type" db:"product_type"`
	PartnerCode   string    `json:"partner_code" db:"partner_code"`
	AccountStatus string    `json:"account_status" db:"account_status"`
	SortOrder     int       `json:"sort_order" db:"sort_order"`
}

// Key returns the staged account's identifying pair.
func (s StagedAccount) Key() AccountKey {
	return AccountKey{AccountID: s.AccountID, PaymentID: s.PaymentID}
}
