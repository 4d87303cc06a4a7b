// Package vendorapi holds the HTTP clients for the external dialer vendors.
// Each vendor gets its own client type; the factory switches over the closed
// vendor enum so an unsupported vendor fails at wiring time, not mid-run.
package vendorapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/httpretry"
)

// Client uploads one constructed page to a vendor. Implementations must not
// retry internally beyond transient transport retries; the dispatch retry
// budget lives in the dispatcher.
type Client interface {
	UploadBatch(ctx context.Context, batch *domain.PayloadBatch) (*domain.UploadResult, error)
}

// New returns the client for the given vendor.
func New(vendor domain.Vendor, cfg config.VendorConfig, timeout time.Duration) (Client, error) {
	httpClient := httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 2)
	switch vendor {
	case domain.VendorCallPilot:
		return NewCallPilotClient(cfg.CallPilot, httpClient), nil
	case domain.VendorVoxLink:
		return NewVoxLinkClient(cfg.VoxLink, httpClient), nil
	default:
		return nil, fmt.Errorf("no client for vendor %q", vendor)
	}
}
