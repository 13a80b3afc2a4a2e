package events

import (
	. "github.com/mgarrido/evsun/internal/core/domain"
)

// TickReportToUpdateEvents maps one control tick to the MQTT observability
// sensors.
func TickReportToUpdateEvents(report TickReport, lineVoltage float64, ladderAmps []int) []any {
	var events []any

	amps := ladderAmps[report.NewStep]

	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CONTROL_MODE,
		},
		Value: report.NewMode.String(),
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CHARGER_AMPS,
		},
		Value: float64(amps),
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CHARGING_POWER,
		},
		Value: float64(amps) * lineVoltage,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BATTERY_SOC,
		},
		Value:    report.BatterySoC,
		Decimals: 1,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BATTERY_POWER_FLOW,
		},
		Value:    report.BatteryPower,
		Decimals: 1,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_INVERTER_AC_POWER,
		},
		Value:    report.InverterPower,
		Decimals: 1,
	})
	if report.ExcessValid {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_EXCESS_POWER,
			},
			Value:    report.Excess,
			Decimals: 1,
		})
	}
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LAST_REASON,
		},
		Value: report.Reason,
	})

	return events
}

func AutoEnableSwitchUpdateEvent(enabled bool) any {
	return SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SWITCH_ID_AUTO_ENABLE,
		},
		Value: enabled,
	}
}
