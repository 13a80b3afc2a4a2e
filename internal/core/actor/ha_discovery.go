package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/mgarrido/evsun/internal/config"
	"github.com/mgarrido/evsun/internal/core/domain"
	"github.com/mgarrido/evsun/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// HADiscoveryActor publishes the Home Assistant MQTT discovery config once
// both adapters report healthy, then goes quiet.
type HADiscoveryActor struct {
	config                    *config.Config
	behavior                  actor.Behavior
	stash                     *actorutil.Stash
	homeAssistantActor        *actor.PID
	mqttActor                 *actor.PID
	homeAssistantActorHealthy bool
	mqttActorHealthy          bool
	healthyRecv               int

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, homeAssistantActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:             config,
		homeAssistantActor: homeAssistantActor,
		mqttActor:          mqttActor,
		behavior:           actor.NewBehavior(),
		stash:              &actorutil.Stash{},
		logger:             actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// Check Home Assistant and MQTT actor healthy
		state.healthyRecv = 0
		state.homeAssistantActorHealthy = false
		state.mqttActorHealthy = false
		// Home Assistant Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.homeAssistantActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_HOMEASSISTANT,
				Healthy: false,
			}
		})
		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_HOMEASSISTANT:
				state.homeAssistantActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {

			if state.homeAssistantActorHealthy && state.mqttActorHealthy {
				state.publishDiscovery(ctx)
				state.behavior.Become(state.Done)
				state.stash.UnstashAll(ctx)
			} else {
				panic(errors.New("MQTT Actor or Home Assistant Actor are not healthy"))
			}
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

func (state *HADiscoveryActor) publishDiscovery(ctx actor.Context) {
	var sensors []domain.GenericSensor
	var switches []domain.GenericSwitch

	bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	controllerDevice := domain.ControllerDevice(state.config.MQTT.BaseTopic)
	controllerDevice.ViaDevice = bridgeDevice.Id
	controllerSensors := domain.ControllerSensors(controllerDevice)
	for i := range controllerSensors {
		if i > 0 {
			controllerSensors[i].Device = domain.IdDevice(controllerDevice)
		}
		sensors = append(sensors, controllerSensors[i])
	}

	switches = append(switches, domain.ControllerSwitches(domain.IdDevice(controllerDevice))...)

	state.logger.Sugar().Infof("hadiscovery: publishing %d sensors, %d switches", len(sensors), len(switches))
	ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
		Sensors:  sensors,
		Switches: switches,
	})
}
