package homeassistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mgarrido/evsun/internal/config"
	"github.com/mgarrido/evsun/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, states map[string]string) (*httptest.Server, *[]string) {
	t.Helper()

	var serviceCalls []string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/states/") {
			if r.Header.Get("Authorization") != "Bearer test-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			entity := strings.TrimPrefix(r.URL.Path, "/api/states/")
			state, ok := states[entity]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(EntityState{EntityId: entity, State: state})
			return
		}
		if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/services/") {
			parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/api/services/"), "/", 2)
			if len(parts) != 2 {
				http.NotFound(w, r)
				return
			}
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			serviceCalls = append(serviceCalls, parts[0]+"."+parts[1])
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	})

	return httptest.NewServer(handler), &serviceCalls
}

func testEntities() config.HAEntitiesConfig {
	return config.HAEntitiesConfig{
		BatterySoC:     "sensor.battery_soc",
		BatteryPower:   "sensor.battery_power",
		InverterPower:  "sensor.inverter_power",
		PVPower:        "sensor.pv_power",
		ChargerStatus:  "sensor.charger_status",
		ChargerSwitch:  "switch.charger",
		ChargerCurrent: "number.charger_current",
	}
}

func testHAConfig(url string) config.HomeAssistantConfig {
	return config.HomeAssistantConfig{
		BaseURL:  url,
		Token:    "test-token",
		Entities: testEntities(),
	}
}

func TestReadSnapshot(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	server, _ := newTestServer(t, map[string]string{
		"sensor.battery_soc":     "42.5",
		"sensor.battery_power":   "-300",
		"sensor.inverter_power":  "1250.5",
		"sensor.pv_power":        "4800",
		"sensor.charger_status":  "Charging",
		"switch.charger":         "on",
		"number.charger_current": "8",
	})
	defer server.Close()

	cfg := testHAConfig(server.URL)
	source := NewSource(NewClient(cfg), cfg.Entities, nil)

	now := time.Now()
	snap, err := source.ReadSnapshot(context.Background(), now)
	require.NoError(err)

	assert.InDelta(42.5, snap.BatterySoC, 0.001)
	assert.InDelta(-300, snap.BatteryPower, 0.001)
	assert.InDelta(1250.5, snap.InverterPower, 0.001)
	assert.InDelta(4800, snap.PVPower, 0.001)
	assert.Equal(domain.StatusCharging, snap.ChargerStatus)
	assert.True(snap.ChargerSwitchOn)
	assert.Equal(8, snap.ChargerCurrent)
	assert.Equal(now, snap.At)
}

func TestReadSnapshotWithholdsOnUnavailable(t *testing.T) {

	assert := assert.New(t)

	server, _ := newTestServer(t, map[string]string{
		"sensor.battery_soc":     "42.5",
		"sensor.battery_power":   "unavailable",
		"sensor.inverter_power":  "1250.5",
		"sensor.pv_power":        "4800",
		"sensor.charger_status":  "charging",
		"switch.charger":         "on",
		"number.charger_current": "8",
	})
	defer server.Close()

	cfg := testHAConfig(server.URL)
	source := NewSource(NewClient(cfg), cfg.Entities, nil)

	_, err := source.ReadSnapshot(context.Background(), time.Now())
	assert.Error(err, "a partial snapshot must never be returned")
}

func TestReadSnapshotRejectsUnknownStatus(t *testing.T) {

	assert := assert.New(t)

	server, _ := newTestServer(t, map[string]string{
		"sensor.battery_soc":     "42.5",
		"sensor.battery_power":   "-300",
		"sensor.inverter_power":  "1250.5",
		"sensor.pv_power":        "4800",
		"sensor.charger_status":  "exploded",
		"switch.charger":         "on",
		"number.charger_current": "8",
	})
	defer server.Close()

	cfg := testHAConfig(server.URL)
	source := NewSource(NewClient(cfg), cfg.Entities, nil)

	_, err := source.ReadSnapshot(context.Background(), time.Now())
	assert.Error(err)
}

func TestActuatorCalls(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	server, calls := newTestServer(t, nil)
	defer server.Close()

	cfg := testHAConfig(server.URL)
	source := NewSource(NewClient(cfg), cfg.Entities, nil)

	require.NoError(source.SetSwitch(context.Background(), true))
	require.NoError(source.SetCurrent(context.Background(), 10))
	require.NoError(source.SetSwitch(context.Background(), false))

	assert.Equal([]string{"switch.turn_on", "number.set_value", "switch.turn_off"}, *calls)
}
