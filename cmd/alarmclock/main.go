package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"alarmclock/internal/config"
	"alarmclock/internal/ics"
	appLog "alarmclock/internal/log"
	"alarmclock/internal/occupancy"
	"alarmclock/internal/relay"
	"alarmclock/internal/scheduler"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	logLevel   string
	once       bool
}

func main() {
	flags := parseFlags()
	appLog.SetLevel(flags.logLevel)

	// A .env file next to the binary is honored, matching the original
	// deployment. Absence is fine; real environment always wins.
	_ = godotenv.Load()

	appLog.Info("alarmclock starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"url", ics.RedactURL(conf.URL),
		"relay_pin", conf.RelayPin,
		"sensor_pin", conf.SensorPin,
		"refresh", conf.RefreshInterval().String(),
		"tick", conf.TickInterval().String(),
		"horizon_days", conf.HorizonDays,
		"timezone", conf.Timezone,
		"no_gpio", conf.NoGPIO,
		"once", flags.once,
	)

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to resolve timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	feed := ics.NewFeed(conf.URL, conf.CacheDir, conf.Horizon(), loc)

	sensor, actuator, err := buildHardware(conf)
	if err != nil {
		appLog.Error("failed to initialize GPIO", err)
		os.Exit(1)
	}

	sched := scheduler.New(feed, sensor, actuator, scheduler.Options{
		RefreshInterval: conf.RefreshInterval(),
		TickInterval:    conf.TickInterval(),
	})

	if flags.once {
		// Single refresh for smoke checks; the summary is logged by the
		// scheduler on first sight of the feed.
		if err := sched.Refresh(ctx); err != nil {
			os.Exit(1)
		}
		appLog.Info("alarmclock exiting (once)")
		return
	}

	if err := sched.Run(ctx); err != nil {
		appLog.Error("scheduler stopped", err)
		os.Exit(1)
	}
	appLog.Info("alarmclock exiting")
}

// buildHardware wires the occupancy sensor and relay, or their no-op
// stands-ins when GPIO access is disabled.
func buildHardware(conf *config.Config) (occupancy.Sensor, relay.Actuator, error) {
	if conf.NoGPIO {
		appLog.Info("GPIO disabled; using stubs")
		// Without a real sensor the controller behaves as if the bed is
		// always occupied, so alarms still trigger the (logged) relay.
		return occupancy.NewStatic(true), relay.NewNoop(), nil
	}

	sensor, err := occupancy.NewPin(conf.SensorPin)
	if err != nil {
		return nil, nil, err
	}
	actuator, err := relay.NewPin(conf.RelayPin)
	if err != nil {
		return nil, nil, err
	}
	return sensor, actuator, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/alarmclock/config.yaml", "Path to config file (optional)")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "Console log level: debug, info, warning, error")
	flag.BoolVar(&cfg.once, "once", false, "Run one calendar refresh, log the summary, and exit")

	flag.Parse()

	return cfg
}
