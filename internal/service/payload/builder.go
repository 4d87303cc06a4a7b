package payload

import (
	"fmt"
	"strings"
	"time"

	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/logger"
)

// Build constructs the page payload for the given vendor. Rows failing field
// validation are dropped with a warning; a page that loses every row returns
// ErrEmptyPage so the caller can skip it without failing the task.
func Build(vendor domain.Vendor, bucket string, date time.Time, page int, rows []domain.StagedAccount) (*domain.PayloadBatch, error) {
	switch vendor {
	case domain.VendorCallPilot:
		return buildCallPilot(bucket, date, page, rows)
	case domain.VendorVoxLink:
		return buildVoxLink(bucket, date, page, rows)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVendor, vendor)
	}
}

// TaskName is the vendor-visible campaign identifier for a bucket and day.
func TaskName(bucket string, date time.Time) string {
	return fmt.Sprintf("%s_%s", bucket, date.Format("20060102"))
}

// CallPilot accepts E.164 phone numbers and ISO dates.
func buildCallPilot(bucket string, date time.Time, page int, rows []domain.StagedAccount) (*domain.PayloadBatch, error) {
	records := make([]domain.CallRecord, 0, len(rows))
	for _, row := range rows {
		phone, ok := normalizePhone(row.PhoneNumber)
		if !ok {
			dropRow(row, "unusable phone")
			continue
		}
		records = append(records, domain.CallRecord{
			AccountID:   row.AccountID,
			PaymentID:   row.PaymentID,
			PhoneNumber: "+" + phone,
			FullName:    strings.TrimSpace(row.FullName),
			DPD:         row.DPD,
			Outstanding: row.Outstanding,
			DueDate:     row.DueDate.Format("2006-01-02"),
			BucketName:  bucket,
			SortOrder:   row.SortOrder,
			ProductType: row.ProductType,
			PartnerCode: row.PartnerCode,
		})
	}
	return finish(domain.VendorCallPilot, bucket, date, page, records)
}

// VoxLink wants bare digit strings and day-first dates.
func buildVoxLink(bucket string, date time.Time, page int, rows []domain.StagedAccount) (*domain.PayloadBatch, error) {
	records := make([]domain.CallRecord, 0, len(rows))
	for _, row := range rows {
		phone, ok := normalizePhone(row.PhoneNumber)
		if !ok {
			dropRow(row, "unusable phone")
			continue
		}
		name := strings.TrimSpace(row.FullName)
		if name == "" {
			dropRow(row, "missing name")
			continue
		}
		records = append(records, domain.CallRecord{
			AccountID:   row.AccountID,
			PaymentID:   row.PaymentID,
			PhoneNumber: phone,
			FullName:    strings.ToUpper(name),
			DPD:         row.DPD,
			Outstanding: row.Outstanding,
			DueDate:     row.DueDate.Format("02/01/2006"),
			BucketName:  bucket,
			SortOrder:   row.SortOrder,
			ProductType: row.ProductType,
			PartnerCode: row.PartnerCode,
		})
	}
	return finish(domain.VendorVoxLink, bucket, date, page, records)
}

func finish(vendor domain.Vendor, bucket string, date time.Time, page int, records []domain.CallRecord) (*domain.PayloadBatch, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s page %d", ErrEmptyPage, bucket, page)
	}
	return &domain.PayloadBatch{
		Vendor:       vendor,
		BucketName:   bucket,
		CampaignDate: date.Format("2006-01-02"),
		Page:         page,
		TaskName:     TaskName(bucket, date),
		Records:      records,
	}, nil
}

func dropRow(row domain.StagedAccount, reason string) {
	logger.Warn("dropping record from page",
		"account_id", row.AccountID,
		"payment_id", row.PaymentID,
		"reason", reason)
}

// normalizePhone strips formatting and resolves the number to international
// digits. Local numbers beginning with 0 are rewritten onto the default
// country code; anything shorter than 8 digits is rejected.
func normalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "0") {
		digits = defaultCountryCode + digits[1:]
	}
	if len(digits) < 8 || len(digits) > 15 {
		return "", false
	}
	return digits, true
}

const defaultCountryCode = "62"
