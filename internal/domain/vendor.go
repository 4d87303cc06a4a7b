package domain

import "time"

// Vendor identifies an external call-center/dialer system. The set is
// closed: adding a vendor means adding a constant here plus a payload
// builder and API client variant, not a lookup-table entry.
type Vendor string

const (
	VendorCallPilot Vendor = "callpilot"
	VendorVoxLink   Vendor = "voxlink"
)

// Valid reports whether v names a known vendor.
func (v Vendor) Valid() bool {
	switch v {
	case VendorCallPilot, VendorVoxLink:
		return true
	}
	return false
}

// CallRecord is one account in a constructed dialer payload, after field
// mapping and validation for a specific vendor.
type CallRecord struct {
	AccountID   string  `json:"account_id"`
	PaymentID   string  `json:"payment_id"`
	PhoneNumber string  `json:"phone_number"`
	FullName    string  `json:"full_name"`
	DPD         int     `json:"dpd"`
	Outstanding float64 `json:"outstanding"`
	DueDate     string  `json:"due_date"`
	BucketName  string  `json:"bucket_name"`
	SortOrder   int     `json:"sort_order"`
	ProductType string  `json:"product_type"`
	PartnerCode string  `json:"partner_code,omitempty"`
}

// PayloadBatch is one page of call records in the wire shape a vendor
// accepts, ready for upload.
type PayloadBatch struct {
	Vendor       Vendor       `json:"vendor"`
	BucketName   string       `json:"bucket_name"`
	CampaignDate string       `json:"campaign_date"`
	Page         int          `json:"page"`
	TaskName     string       `json:"task_name"`
	Records      []CallRecord `json:"records"`
}

// UploadResult is returned by a vendor client after attempting an upload.
type UploadResult struct {
	Success       bool      `json:"success"`
	AcceptedCount int       `json:"accepted_count"`
	VendorTaskID  string    `json:"vendor_task_id,omitempty"`
	UploadedAt    time.Time `json:"uploaded_at"`
	Error         string    `json:"error,omitempty"`
}
