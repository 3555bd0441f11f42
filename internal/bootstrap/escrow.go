package bootstrap

import (
	"fmt"

	"github.com/angelmondragon/marketplace-escrow/internal/escrow"
	"github.com/angelmondragon/marketplace-escrow/internal/ledger"
	"github.com/angelmondragon/marketplace-escrow/internal/orders"
	"github.com/angelmondragon/marketplace-escrow/internal/shippinglog"
	"github.com/angelmondragon/marketplace-escrow/pkg/metrics"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox"
)

// Escrow is the state machine plus the stores it writes through. The api and
// the cron worker build the same graph.
type Escrow struct {
	Orders     orders.Repository
	LedgerRepo ledger.Repository
	Ledger     ledger.Service
	Audit      shippinglog.Service
	OutboxRepo *outbox.Repository
	Outbox     *outbox.Service
	Metrics    *metrics.EscrowMetrics
	Service    escrow.Service
}

func (rt *Runtime) Escrow() (*Escrow, error) {
	gdb := rt.DB.DB()
	e := &Escrow{
		Orders:     orders.NewRepository(gdb),
		LedgerRepo: ledger.NewRepository(gdb),
		OutboxRepo: outbox.NewRepository(gdb),
		Metrics:    metrics.NewEscrowMetrics(rt.Registry),
	}
	e.Outbox = outbox.NewService(e.OutboxRepo, rt.Logger)

	var err error
	if e.Ledger, err = ledger.NewService(e.LedgerRepo, rt.DB); err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	if e.Audit, err = shippinglog.NewService(shippinglog.NewRepository(gdb)); err != nil {
		return nil, fmt.Errorf("shipping log service: %w", err)
	}
	e.Service, err = escrow.NewService(escrow.ServiceParams{
		Orders:    e.Orders,
		Ledger:    e.Ledger,
		Audit:     e.Audit,
		Outbox:    e.Outbox,
		TxRunner:  rt.DB,
		Metrics:   e.Metrics,
		Logger:    rt.Logger,
		Policy:    escrow.Policy{InspectionPeriod: rt.Config.Escrow.InspectionPeriod},
		BatchSize: rt.Config.Escrow.SweepBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("escrow service: %w", err)
	}
	return e, nil
}
