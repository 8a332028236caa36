package system

import "context"

// Service is a lifecycle-managed background component. Sweepers and pollers
// implement it so the manager can start and stop them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
