package vendorapi

import (
	"context"
	"fmt"
	"time"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/domain"
)

// Mux routes an upload to the client for the batch's vendor. Buckets carry
// different vendors, so the dispatcher holds one Mux instead of one client
// per bucket family.
type Mux struct {
	clients map[domain.Vendor]Client
}

// NewMux builds a client per known vendor up front, so a missing vendor
// configuration fails at wiring time.
func NewMux(cfg config.VendorConfig, timeout time.Duration) (*Mux, error) {
	clients := make(map[domain.Vendor]Client, 2)
	for _, v := range []domain.Vendor{domain.VendorCallPilot, domain.VendorVoxLink} {
		c, err := New(v, cfg, timeout)
		if err != nil {
			return nil, err
		}
		clients[v] = c
	}
	return &Mux{clients: clients}, nil
}

// UploadBatch forwards the batch to the client matching batch.Vendor.
func (m *Mux) UploadBatch(ctx context.Context, batch *domain.PayloadBatch) (*domain.UploadResult, error) {
	c, ok := m.clients[batch.Vendor]
	if !ok {
		return nil, fmt.Errorf("no client for vendor %q", batch.Vendor)
	}
	return c.UploadBatch(ctx, batch)
}
