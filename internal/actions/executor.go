package actions

import (
	"context"
	"fmt"

	"github.com/fleetsentry/sentinel/internal/inventory"
	"github.com/fleetsentry/sentinel/internal/models"
)

// InventoryExecutor adapts an inventory.Client into an Executor, mapping
// each ActionType to its single corresponding container operation.
type InventoryExecutor struct {
	client inventory.Client
}

// NewInventoryExecutor returns an Executor backed by client.
func NewInventoryExecutor(client inventory.Client) *InventoryExecutor {
	return &InventoryExecutor{client: client}
}

func (e *InventoryExecutor) Execute(ctx context.Context, a *models.Action) error {
	switch a.ActionType {
	case models.ActionRestartContainer:
		return e.client.RestartContainer(ctx, a.EndpointID, a.ContainerID)
	case models.ActionStopContainer:
		return e.client.StopContainer(ctx, a.EndpointID, a.ContainerID)
	case models.ActionStartContainer:
		return e.client.StartContainer(ctx, a.EndpointID, a.ContainerID)
	default:
		return fmt.Errorf("unsupported action type: %s", a.ActionType)
	}
}
