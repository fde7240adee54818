package adapter

import "context"

// OpsNotifier pushes alerts to the merchant operator channel. Used for
// conditions the engine never resolves on its own: permanent charge failures
// and on-ledger allowance drift. Implementations must be safe to call
// concurrently and should never block a charge on delivery.
type OpsNotifier interface {
	Name() string
	Alert(ctx context.Context, subject, body string) error
}
