package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowmend/flowmend/pkg/eventbus"
	"github.com/flowmend/flowmend/pkg/events"
	"github.com/flowmend/flowmend/pkg/persistence"
)

var errUnexpectedEvent = errors.New("unexpected event payload")

// Intake feeds execution telemetry from the event bus into the lifecycle
// manager. Events for unknown lifecycles are dropped with a warning; they
// would never succeed on redelivery.
type Intake struct {
	manager *Manager
	bus     eventbus.EventBus
	logger  *slog.Logger
}

func NewIntake(manager *Manager, bus eventbus.EventBus, logger *slog.Logger) *Intake {
	return &Intake{
		manager: manager,
		bus:     bus,
		logger:  logger,
	}
}

// Start registers the handlers and begins consuming.
func (i *Intake) Start(ctx context.Context) error {
	if err := i.bus.Handle(events.ExecutionCompletedEvent, i.handleCompleted); err != nil {
		return err
	}

	if err := i.bus.Handle(events.ExecutionFailedEvent, i.handleFailed); err != nil {
		return err
	}

	return i.bus.Subscribe(ctx)
}

func (i *Intake) handleCompleted(ctx context.Context, event any) error {
	completed, ok := event.(*events.ExecutionCompleted)
	if !ok {
		return fmt.Errorf("%w: %T", errUnexpectedEvent, event)
	}

	return i.record(ctx, completed.LogicalID, completed)
}

func (i *Intake) handleFailed(ctx context.Context, event any) error {
	failed, ok := event.(*events.ExecutionFailed)
	if !ok {
		return fmt.Errorf("%w: %T", errUnexpectedEvent, event)
	}

	return i.record(ctx, failed.LogicalID, failed)
}

func (i *Intake) record(ctx context.Context, logicalID string, event any) error {
	var err error

	switch e := event.(type) {
	case *events.ExecutionCompleted:
		_, err = i.manager.RecordExecution(ctx, e.Execution)
	case *events.ExecutionFailed:
		_, err = i.manager.RecordExecution(ctx, e.Execution)
	}

	if err != nil {
		if persistence.IsLifecycleNotFound(err) {
			i.logger.WarnContext(ctx, "Dropping execution event for unknown lifecycle",
				"logical_id", logicalID)

			return nil
		}

		return err
	}

	return nil
}
