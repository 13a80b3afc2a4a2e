package domain

import "time"

const (
	ACTOR_ID_MASTER        = "master"
	ACTOR_ID_HOMEASSISTANT = "homeassistant"
	ACTOR_ID_MQTT          = "mqtt"
	ACTOR_ID_CONTROL       = "control"
	ACTOR_ID_HA_DISCOVERY  = "hadiscovery"
)

type ReadSnapshotRequest struct {
	ActorRequestMixIn
}

type ReadSnapshotResponse struct {
	ActorResponseMixIn
	Snapshot Snapshot
}

// ApplyChargerCommandRequest carries the minimal actuator calls of one
// committed decision. Nil fields mean no call.
type ApplyChargerCommandRequest struct {
	ActorRequestMixIn
	Switch      *bool
	CurrentAmps *int
}

type ApplyChargerCommandResponse struct {
	ActorResponseMixIn
}

// ControlAutoEnableRequest toggles the controller auto-enable override,
// typically from the MQTT auto_enable switch.
type ControlAutoEnableRequest struct {
	ActorRequestMixIn
	Enable bool
}

type ControlStatusRequest struct {
	ActorRequestMixIn
}

type ControlStatusResponse struct {
	ActorResponseMixIn
	Mode        string    `json:"mode"`
	StepIndex   int       `json:"step_index"`
	CurrentAmps int       `json:"current_amps"`
	AutoEnabled bool      `json:"auto_enabled"`
	LastChange  time.Time `json:"last_change"`
	LastReason  string    `json:"last_reason"`
	LastTick    time.Time `json:"last_tick"`
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors  []GenericSensor
	Switches []GenericSwitch
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
