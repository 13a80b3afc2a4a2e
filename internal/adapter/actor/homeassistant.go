package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/mgarrido/evsun/internal/core/domain"
	"github.com/mgarrido/evsun/internal/core/port"
	"github.com/mgarrido/evsun/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/logger"
	"go.uber.org/zap"
)

const (
	readSnapshotTimeout = 5 * time.Second
	applyCommandTimeout = 5 * time.Second
)

// HomeAssistantActor serializes snapshot reads and charger actuation. One
// request runs at a time; anything arriving meanwhile is stashed until the
// background task settles.
type HomeAssistantActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	source   port.SnapshotSource
	actuator port.ChargerActuator
	power    port.PowerReader
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewHomeAssistantActor(source port.SnapshotSource, actuator port.ChargerActuator,
	power port.PowerReader, logger *zap.Logger) *HomeAssistantActor {
	act := &HomeAssistantActor{
		source:   source,
		actuator: actuator,
		power:    power,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_HOMEASSISTANT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HomeAssistantActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HomeAssistantActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("homeassistant@starting started")
		if state.power != nil {
			if err := state.power.Open(); err != nil {
				panic(err)
			}
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		if state.power != nil {
			state.power.Close()
		}
	default:
		state.logger.Debug("homeassistant@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HomeAssistantActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("homeassistant@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HOMEASSISTANT,
			Healthy: true,
			State:   "idle",
		})
	case domain.ReadSnapshotRequest:
		state.logger.Debug("homeassistant@default: ReadSnapshotRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.readSnapshot),
			mapTaskResult[domain.ReadSnapshotResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.ReadSnapshotResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(readSnapshotTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingHomeAssistant)
	case domain.ApplyChargerCommandRequest:
		state.logger.Debug("homeassistant@default: ApplyChargerCommandRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, func() *domain.ApplyChargerCommandResponse {
			a := state.applyCommand(msg)
			return &a
		}),
			mapTaskResult[domain.ApplyChargerCommandResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.ApplyChargerCommandResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(applyCommandTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingHomeAssistant)
	case *actor.Stopping:
		if state.power != nil {
			state.power.Close()
		}
	default:
		state.logger.Debug("homeassistant@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HomeAssistantActor) WaitingHomeAssistant(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("homeassistant@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		ctx.Send(msg.replyTo, msg.message)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		if state.power != nil {
			state.power.Close()
		}
	default:
		state.logger.Debug("homeassistant@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (a *HomeAssistantActor) readSnapshot() (*domain.ReadSnapshotResponse, error) {
	snap, err := a.source.ReadSnapshot(context.Background(), time.Now())
	if err != nil {
		logger.Error(err)
		return nil, err
	}
	return &domain.ReadSnapshotResponse{
		Snapshot: *snap,
	}, nil
}

// applyCommand actuates the charger. The switch always goes first so a
// current value is never written to a charger about to be switched off.
func (a *HomeAssistantActor) applyCommand(cmd domain.ApplyChargerCommandRequest) domain.ApplyChargerCommandResponse {
	if cmd.Switch != nil {
		if err := a.actuator.SetSwitch(context.Background(), *cmd.Switch); err != nil {
			logger.Error(err)
			return domain.ApplyChargerCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		}
	}
	if cmd.CurrentAmps != nil {
		if err := a.actuator.SetCurrent(context.Background(), *cmd.CurrentAmps); err != nil {
			logger.Error(err)
			return domain.ApplyChargerCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		}
	}
	return domain.ApplyChargerCommandResponse{}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
