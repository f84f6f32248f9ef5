package interfaces

import (
	"context"

	"trading-hub/src/models"
)

// -----------------------------------------------------------------------------
// IFanoutBus mirrors topic broadcasts between server instances.
// -----------------------------------------------------------------------------

type IFanoutBus interface {
	// Forward sends an event to the other instances.
	Forward(ctx context.Context, evt models.MOutboundEvent) error

	// Run delivers events from other instances to deliver until ctx is done.
	Run(ctx context.Context, deliver func(models.MOutboundEvent)) error

	Close() error
}
