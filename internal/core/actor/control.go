package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/mgarrido/evsun/internal/config"
	"github.com/mgarrido/evsun/internal/core/domain"
	"github.com/mgarrido/evsun/internal/core/events"
	"github.com/mgarrido/evsun/internal/core/service"
	. "github.com/mgarrido/evsun/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	snapshotRequestTimeout = 5 * time.Second
	applyRequestTimeout    = 5 * time.Second
)

// ControlActor runs the charge control loop: one snapshot, one rule, at most
// one actuation per tick. All FSM state lives here; the evaluator and applier
// stay pure.
type ControlActor struct {
	ActorWithStates
	scheduler   *scheduler.TimerScheduler
	stash       *Stash
	haActor     *actor.PID
	config      *config.Config
	ctrlConfig  domain.ControllerConfig
	eventStream *eventstream.EventStream
	evaluator   *service.Evaluator
	applier     *service.Applier

	controlState domain.ControlState
	autoEnabled  bool
	lastReason   string
	lastTick     time.Time

	// pending actuation of the tick in flight. Committed only when the
	// charger acknowledges the commands.
	pendingPlan   *service.CommandPlan
	pendingReport domain.TickReport

	logger *zap.Logger
}

type controlTick struct {
}

func NewControlActor(config *config.Config, haActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *ControlActor {
	ctrlConfig := config.Control.Controller()
	act := &ControlActor{
		config:      config,
		ctrlConfig:  ctrlConfig,
		haActor:     haActor,
		stash:       &Stash{},
		logger:      ActorLogger(domain.ACTOR_ID_CONTROL, logger),
		eventStream: eventStream,
		evaluator:   service.NewEvaluator(ctrlConfig),
		applier:     service.NewApplier(ctrlConfig),
		autoEnabled: true,
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(CtrlStartingState{
		actor: act,
	})
	return act
}

func (state *ControlActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type CtrlStartingState struct {
	ActorState
	actor *ControlActor
}

func (state CtrlStartingState) Name() string {
	return "starting"
}

func (state CtrlStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("control@starting started")

		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)

		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.haActor, domain.ReadSnapshotRequest{}, snapshotRequestTimeout), func(err error) any {
			return domain.ReadSnapshotResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.actor.Become(CtrlSeedingState{
			actor: state.actor,
		})
	case *actor.Restarting:
	default:
		state.actor.logger.Debug("control@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Seeding state. The first snapshot decides whether a running charge session
// is adopted or the controller boots at OFF.

type CtrlSeedingState struct {
	ActorState
	actor *ControlActor
}

func (state CtrlSeedingState) Name() string {
	return "seeding"
}

func (state CtrlSeedingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ReadSnapshotResponse:
		if msg.HasResponseError() {
			state.actor.logger.Error("control@seeding ReadSnapshotResponse error", zap.Error(msg.GetResponseError()))
			panic(msg.GetResponseError())
		}
		snap := msg.Snapshot
		snap.AutoEnabled = state.actor.autoEnabled

		state.actor.controlState = service.SeedState(state.actor.ctrlConfig, snap)
		state.actor.lastReason = domain.ReasonIdle
		state.actor.lastTick = snap.At
		if state.actor.controlState.StepIndex > 0 {
			state.actor.lastReason = domain.ReasonSessionAdopted
			state.actor.logger.Sugar().Infof("control@seeding: adopted running session at step %d (%dA)",
				state.actor.controlState.StepIndex, state.actor.ctrlConfig.LadderAmps[state.actor.controlState.StepIndex])
		}
		state.actor.eventStream.Publish(events.AutoEnableSwitchUpdateEvent(state.actor.autoEnabled))

		state.actor.scheduleTick(ctx)
		state.actor.Become(CtrlRunningState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	default:
		state.actor.logger.Debug("control@seeding: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Running state

type CtrlRunningState struct {
	ActorState
	actor *ControlActor
}

func (state CtrlRunningState) Name() string {
	return "running"
}

func (state CtrlRunningState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("control@running: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CONTROL,
			Healthy: true,
			State:   state.Name(),
		})
	case controlTick:
		state.actor.logger.Debug("control@running controlTick")
		state.actor.BecomeStacked(CtrlAwaitSnapshotState{
			actor: state.actor,
		}.OnEnterAction(ctx))
	case domain.ReadSnapshotResponse:
		state.actor.handleSnapshot(ctx, msg)
	case domain.ApplyChargerCommandResponse:
		state.actor.handleApplyResult(ctx, msg)
	case domain.ControlAutoEnableRequest:
		state.actor.logger.Sugar().Infof("control@running: cmd autoEnable %t", msg.Enable)
		state.actor.autoEnabled = msg.Enable
		state.actor.eventStream.Publish(events.AutoEnableSwitchUpdateEvent(msg.Enable))
	case domain.ControlStatusRequest:
		state.actor.logger.Debug("control@running: ControlStatusRequest")
		ForRequest(msg).Respond(ctx, state.actor.statusResponse())
	default:
		state.actor.logger.Debug("control@running: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// handleSnapshot runs one evaluation round over a fresh snapshot. A failed
// read skips the tick; the prior state stands untouched.
func (state *ControlActor) handleSnapshot(ctx actor.Context, msg domain.ReadSnapshotResponse) {
	if msg.HasResponseError() {
		state.logger.Warn("control@running: snapshot read failed, skipping tick", zap.Error(msg.GetResponseError()))
		state.scheduleTick(ctx)
		return
	}
	snap := msg.Snapshot
	snap.AutoEnabled = state.autoEnabled

	cs, resynced := service.ResyncExternal(state.ctrlConfig, snap, state.controlState)
	if resynced {
		state.logger.Sugar().Infof("control@running: external change detected, resynced to step %d (%dA)",
			cs.StepIndex, state.ctrlConfig.LadderAmps[cs.StepIndex])
		state.lastReason = domain.ReasonExternalResync
	}
	state.controlState = cs

	derived := service.Derive(state.ctrlConfig, snap, cs)
	decision := state.evaluator.Evaluate(snap, cs)
	plan, err := state.applier.Plan(snap, cs, decision)
	if err != nil {
		// an invalid decision means the evaluator is broken. Crash and let
		// the supervisor restart from a clean seed.
		state.logger.Error("control@running: decision rejected", zap.Error(err))
		panic(err)
	}

	report := buildTickReport(snap, cs, derived, decision, plan)
	state.lastReason = decision.Reason
	state.lastTick = snap.At

	if plan.HasCommands() {
		state.pendingPlan = plan
		state.pendingReport = report
		state.BecomeStacked(CtrlAwaitApplyState{
			actor: state,
		}.OnEnterAction(ctx, domain.ApplyChargerCommandRequest{
			Switch:      plan.Switch,
			CurrentAmps: plan.CurrentAmps,
		}))
		return
	}

	// nothing to actuate; commit the state advance directly
	state.commit(plan.Next, report)
	state.scheduleTick(ctx)
}

// handleApplyResult commits the pending plan only when the charger accepted
// every command. On failure the state stays put and the next tick retries.
func (state *ControlActor) handleApplyResult(ctx actor.Context, msg domain.ApplyChargerCommandResponse) {
	plan := state.pendingPlan
	report := state.pendingReport
	state.pendingPlan = nil

	if plan == nil {
		state.logger.Warn("control@running: apply result without pending plan")
		state.scheduleTick(ctx)
		return
	}
	if msg.HasResponseError() {
		state.logger.Error("control@running: charger command failed, not committing", zap.Error(msg.GetResponseError()))
		report.Committed = false
		state.publishReport(report)
		state.scheduleTick(ctx)
		return
	}
	state.commit(plan.Next, report)
	state.scheduleTick(ctx)
}

func (state *ControlActor) commit(next domain.ControlState, report domain.TickReport) {
	prev := state.controlState
	state.controlState = next
	report.Committed = true
	if prev.Mode != next.Mode || prev.StepIndex != next.StepIndex {
		state.logger.Sugar().Infof("control@running: %s/%d -> %s/%d (%s)",
			prev.Mode, prev.StepIndex, next.Mode, next.StepIndex, report.Reason)
	}
	state.publishReport(report)
}

func (state *ControlActor) publishReport(report domain.TickReport) {
	for _, ev := range events.TickReportToUpdateEvents(report, state.ctrlConfig.LineVoltage, state.ctrlConfig.LadderAmps) {
		state.eventStream.Publish(ev)
	}
}

func (state *ControlActor) scheduleTick(ctx actor.Context) {
	state.scheduler.RequestOnce(state.ctrlConfig.ClampedTickPeriod(), ctx.Self(), controlTick{})
}

func (state *ControlActor) statusResponse() domain.ControlStatusResponse {
	cs := state.controlState
	return domain.ControlStatusResponse{
		Mode:        cs.Mode.String(),
		StepIndex:   cs.StepIndex,
		CurrentAmps: state.ctrlConfig.LadderAmps[cs.StepIndex],
		AutoEnabled: state.autoEnabled,
		LastChange:  cs.LastChange,
		LastReason:  state.lastReason,
		LastTick:    state.lastTick,
	}
}

func buildTickReport(snap domain.Snapshot, cs domain.ControlState, d service.Derived, dec domain.Decision, plan *service.CommandPlan) domain.TickReport {
	return domain.TickReport{
		OldMode:       cs.Mode,
		NewMode:       plan.Next.Mode,
		OldStep:       cs.StepIndex,
		NewStep:       plan.Next.StepIndex,
		ChargerAmps:   snap.ChargerCurrent,
		BatterySoC:    snap.BatterySoC,
		BatteryPower:  snap.BatteryPower,
		InverterPower: snap.InverterPower,
		Excess:        d.Excess,
		ExcessValid:   d.ExcessValid,
		Reason:        dec.Reason,
		At:            snap.At,
	}
}

// Await snapshot response state

type CtrlAwaitSnapshotState struct {
	ActorState
	actor *ControlActor
}

func (state CtrlAwaitSnapshotState) Name() string {
	return "awaitSnapshotReceive"
}

func (state CtrlAwaitSnapshotState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ReadSnapshotResponse:
		ctx.SetReceiveTimeout(0)
		if msg.HasResponseError() {
			state.actor.logger.Warn("control@awaitSnapshotReceive: ReadSnapshotResponse error", zap.Error(msg.GetResponseError()))
		} else {
			state.actor.logger.Debug("control@awaitSnapshotReceive: ReadSnapshotResponse")
		}
		ctx.RequestWithCustomSender(ctx.Self(), msg, ctx.Sender())
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case *actor.ReceiveTimeout:
		ctx.SetReceiveTimeout(0)
		state.actor.logger.Debug("control@awaitSnapshotReceive: ReceiveTimeout")
		ctx.RequestWithCustomSender(ctx.Self(), domain.ReadSnapshotResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: errors.New("receive timeout"),
			},
		}, ctx.Sender())
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	default:
		state.actor.logger.Debug("control@awaitSnapshotReceive: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state CtrlAwaitSnapshotState) OnEnterAction(ctx actor.Context) CtrlAwaitSnapshotState {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.haActor,
		domain.ReadSnapshotRequest{}, snapshotRequestTimeout),
		func(err error) any {
			return domain.ReadSnapshotResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
	ctx.SetReceiveTimeout(snapshotRequestTimeout)
	return state
}

// Await apply response state

type CtrlAwaitApplyState struct {
	ActorState
	actor *ControlActor
}

func (state CtrlAwaitApplyState) Name() string {
	return "awaitApplyReceive"
}

func (state CtrlAwaitApplyState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ApplyChargerCommandResponse:
		ctx.SetReceiveTimeout(0)
		if msg.HasResponseError() {
			state.actor.logger.Error("control@awaitApplyReceive: ApplyChargerCommandResponse error", zap.Error(msg.GetResponseError()))
		} else {
			state.actor.logger.Debug("control@awaitApplyReceive: ApplyChargerCommandResponse")
		}
		ctx.RequestWithCustomSender(ctx.Self(), msg, ctx.Sender())
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case *actor.ReceiveTimeout:
		ctx.SetReceiveTimeout(0)
		state.actor.logger.Debug("control@awaitApplyReceive: ReceiveTimeout")
		ctx.RequestWithCustomSender(ctx.Self(), domain.ApplyChargerCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: errors.New("receive timeout"),
			},
		}, ctx.Sender())
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	default:
		state.actor.logger.Debug("control@awaitApplyReceive: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state CtrlAwaitApplyState) OnEnterAction(ctx actor.Context, cmd domain.ApplyChargerCommandRequest) CtrlAwaitApplyState {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.haActor, cmd, applyRequestTimeout),
		func(err error) any {
			return domain.ApplyChargerCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
	ctx.SetReceiveTimeout(applyRequestTimeout)
	return state
}
