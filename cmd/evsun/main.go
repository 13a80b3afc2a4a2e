package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/mgarrido/evsun/internal/adapter/actor"
	"github.com/mgarrido/evsun/internal/adapter/homeassistant"
	"github.com/mgarrido/evsun/internal/adapter/sunspec"
	"github.com/mgarrido/evsun/internal/config"
	"github.com/mgarrido/evsun/internal/core/actor"
	"github.com/mgarrido/evsun/internal/core/port"
	"github.com/mgarrido/evsun/internal/server"
	"github.com/mgarrido/evsun/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// init Home Assistant actor provider
	haProv, err := homeAssistantActorProvider(cfg, logger)
	if err != nil {
		panic(err)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, haProv, mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => EVSUN_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("EVSUN_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("evsun")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check required Home Assistant params
	if cfg.HomeAssistant.BaseURL == "" || cfg.HomeAssistant.Token == "" {
		return nil, errors.New("config params homeassistant.base_url and homeassistant.token are required")
	}
	ents := cfg.HomeAssistant.Entities
	if ents.ChargerStatus == "" || ents.ChargerSwitch == "" || ents.ChargerCurrent == "" {
		return nil, errors.New("config params homeassistant.entities.charger_* are required")
	}
	if !cfg.InverterModbusTcp.Enable &&
		(ents.BatterySoC == "" || ents.BatteryPower == "" || ents.InverterPower == "" || ents.PVPower == "") {
		return nil, errors.New("power entities are required unless inverter_modbus_tcp is enabled")
	}

	// check control bounds
	if err := cfg.Control.Controller().Validate(); err != nil {
		return nil, fmt.Errorf("config section control: %w", err)
	}

	return &cfg, nil
}

func homeAssistantActorProvider(cfg *config.Config, logger *zap.Logger) (actor.HomeAssistantActorProvider, error) {

	client := homeassistant.NewClient(cfg.HomeAssistant)

	var power port.PowerReader
	if cfg.InverterModbusTcp.Enable {
		reader, err := sunspec.NewPowerReader(cfg.InverterModbusTcp, logger)
		if err != nil {
			return nil, err
		}
		power = reader
	}

	source := homeassistant.NewSource(client, cfg.HomeAssistant.Entities, power)

	return func() *adactor.HomeAssistantActor {
		return adactor.NewHomeAssistantActor(source, source, power, logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "evsun")
	viper.SetDefault("homeassistant.timeout_millis", 5000)
	viper.SetDefault("inverter_modbus_tcp.enable", false)
	viper.SetDefault("inverter_modbus_tcp.port", 502)
	viper.SetDefault("control.ladder_amps", []int{0, 6, 8, 10, 13, 16, 20, 24})
	viper.SetDefault("control.line_voltage", 230)
	viper.SetDefault("control.soc_probe_threshold", 95)
	viper.SetDefault("control.small_discharge_margin", 200)
	viper.SetDefault("control.probe_max_discharge", 1000)
	viper.SetDefault("control.inverter_limit", 8000)
	viper.SetDefault("control.inverter_margin", 500)
	viper.SetDefault("control.cooldown_seconds", 5)
	viper.SetDefault("control.waiting_timeout_seconds", 60)
	viper.SetDefault("control.min_active_amps", 6)
	viper.SetDefault("control.tick_period_millis", 2000)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.HomeAssistant.Token = "*redacted*"
	slog.Info("Using", "config", cfg)
}
