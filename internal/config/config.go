package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/mgarrido/evsun/internal/core/domain"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel          zapcore.Level
	HomeAssistant     HomeAssistantConfig     `mapstructure:"homeassistant"`
	InverterModbusTcp InverterModbusTCPConfig `mapstructure:"inverter_modbus_tcp"`
	MQTT              MQTTConfig              `mapstructure:"mqtt"`
	Control           ControlConfig           `mapstructure:"control"`
	Port              uint                    `mapstructure:"port"`
	HttpLog           bool                    `mapstructure:"http_log"`
}

// HomeAssistantConfig points at the Home Assistant REST API and names the
// entities the controller reads and actuates.
type HomeAssistantConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	Token         string
	TimeoutMillis uint32           `mapstructure:"timeout_millis"`
	Entities      HAEntitiesConfig `mapstructure:"entities"`
}

type HAEntitiesConfig struct {
	BatterySoC     string `mapstructure:"battery_soc"`
	BatteryPower   string `mapstructure:"battery_power"`
	InverterPower  string `mapstructure:"inverter_power"`
	PVPower        string `mapstructure:"pv_power"`
	ChargerStatus  string `mapstructure:"charger_status"`
	ChargerSwitch  string `mapstructure:"charger_switch"`
	ChargerCurrent string `mapstructure:"charger_current"`
}

// InverterModbusTCPConfig enables reading the power values straight from a
// SunSpec inverter instead of Home Assistant entities.
type InverterModbusTCPConfig struct {
	Enable     bool
	Host       string
	Port       uint
	InverterId uint `mapstructure:"inverter_id"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
}

type ControlConfig struct {
	LadderAmps            []int   `mapstructure:"ladder_amps"`
	LineVoltage           float64 `mapstructure:"line_voltage"`
	SocProbeThreshold     float64 `mapstructure:"soc_probe_threshold"`
	SmallDischargeMargin  float64 `mapstructure:"small_discharge_margin"`
	ProbeMaxDischarge     float64 `mapstructure:"probe_max_discharge"`
	InverterLimit         float64 `mapstructure:"inverter_limit"`
	InverterMargin        float64 `mapstructure:"inverter_margin"`
	CooldownSeconds       uint32  `mapstructure:"cooldown_seconds"`
	WaitingTimeoutSeconds uint32  `mapstructure:"waiting_timeout_seconds"`
	MinActiveAmps         int     `mapstructure:"min_active_amps"`
	TickPeriodMillis      uint32  `mapstructure:"tick_period_millis"`
}

// Controller maps the external config section to the FSM constants.
func (c ControlConfig) Controller() domain.ControllerConfig {
	return domain.ControllerConfig{
		LadderAmps:           c.LadderAmps,
		LineVoltage:          c.LineVoltage,
		SoCProbeThreshold:    c.SocProbeThreshold,
		SmallDischargeMargin: c.SmallDischargeMargin,
		ProbeMaxDischarge:    c.ProbeMaxDischarge,
		InverterLimit:        c.InverterLimit,
		InverterMargin:       c.InverterMargin,
		Cooldown:             time.Duration(c.CooldownSeconds) * time.Second,
		WaitingTimeout:       time.Duration(c.WaitingTimeoutSeconds) * time.Second,
		MinActiveAmps:        c.MinActiveAmps,
		TickPeriod:           time.Duration(c.TickPeriodMillis) * time.Millisecond,
	}
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
