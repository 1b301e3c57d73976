package api

import (
	"context"

	"github.com/persistorai/seovault/internal/gateway"
	"github.com/persistorai/seovault/internal/settings"
)

// ActionRunner executes gateway actions. Every state-changing endpoint goes
// through it so capability checks, rate limits and auditing apply uniformly.
type ActionRunner interface {
	Execute(ctx context.Context, req gateway.Request) (*gateway.Outcome, error)
}

// SettingsPreviewer lists settings with secrets masked.
type SettingsPreviewer interface {
	Preview(ctx context.Context) ([]settings.FieldPreview, error)
}

// HealthChecker reports whether the storage backend is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
