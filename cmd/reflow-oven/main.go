// reflow-oven is the controller firmware host for a reflow oven: a
// closed-loop temperature regulator driving AC heating relays through slow
// PWM and a vent servo for cooling, with scripted temperature profiles.
//
// Usage:
//
//	reflow-oven [options]
//
// Options:
//
//	-settings string  Settings file path (default "oven-settings.yaml")
//	-listen string    HTTP API address (default ":8080")
//	-mqtt string      MQTT broker URL (optional, e.g. "tcp://localhost:1883")
//	-logfile string   Log file path (default: stderr)
//	-loglevel string  Log level: DEBUG, INFO, WARN, ERROR (default "INFO")
//	-fake             Run against fake hardware (development)
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reflow-oven-go/pkg/clock"
	"reflow-oven-go/pkg/control"
	"reflow-oven-go/pkg/datalog"
	"reflow-oven-go/pkg/hardware"
	"reflow-oven-go/pkg/log"
	"reflow-oven-go/pkg/metrics"
	"reflow-oven-go/pkg/profile"
	"reflow-oven-go/pkg/settings"
	"reflow-oven-go/pkg/telemetry"
	"reflow-oven-go/pkg/web"
)

func main() {
	settingsPath := flag.String("settings", "oven-settings.yaml", "Settings file path")
	listenAddr := flag.String("listen", ":8080", "HTTP API address")
	mqttBroker := flag.String("mqtt", "", "MQTT broker URL (optional)")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	logLevel := flag.String("loglevel", "INFO", "Log level: DEBUG, INFO, WARN, ERROR")
	fakeHW := flag.Bool("fake", false, "Run against fake hardware")
	flag.Parse()

	rootLogger := log.New("main")
	rootLogger.SetLevel(log.ParseLevel(*logLevel))
	log.ConfigureFromEnv(rootLogger)

	if *logFile != "" {
		writer, err := log.NewRotatingFileWriter(log.RotationConfig{Filename: *logFile})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer writer.Close()
		rootLogger.SetWriter(writer)
		rootLogger.SetColorize(false)
	}

	if err := run(rootLogger, *settingsPath, *listenAddr, *mqttBroker, *fakeHW); err != nil {
		rootLogger.WithError(err).Error("fatal")
		os.Exit(1)
	}
}

func run(rootLogger *log.Logger, settingsPath, listenAddr, mqttBroker string, fakeHW bool) error {
	rootLogger.Info("reflow oven controller starting")

	// Settings
	store, err := settings.OpenFileStore(settingsPath, rootLogger.WithPrefix("settings"))
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	mgr, err := settings.NewManager(store, rootLogger.WithPrefix("settings"))
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// Hardware
	var io hardware.IO
	if fakeHW {
		rootLogger.Warn("running with FAKE hardware")
		io = hardware.NewFake(25)
	} else {
		real, err := hardware.NewReal(hardware.DefaultRealConfig(), rootLogger.WithPrefix("hardware"))
		if err != nil {
			return fmt.Errorf("open hardware: %w", err)
		}
		io = real
	}
	defer io.Close()

	sensors := hardware.NewSensorBank(io, hardware.DefaultReadInterval, rootLogger.WithPrefix("sensors"))
	sensors.RefreshNow()
	sensors.Start()
	defer sensors.Stop()

	// Core
	clk := clock.NewMonotonicRaw()
	controller, err := control.New(clk, io, sensors, mgr, rootLogger.WithPrefix("controller"))
	if err != nil {
		return fmt.Errorf("build controller: %w", err)
	}

	engine := profile.NewEngine(controller, profile.NewKVSlotStore(store), rootLogger.WithPrefix("profile"))
	controller.SetProfileTicker(engine.Tick)

	// Metrics
	oven := metrics.NewOvenMetrics()
	controller.SetTickObserver(func() {
		oven.Ticks.Inc(nil)
		st := controller.GetStatus()
		oven.Setpoint.Set(nil, st.Setpoint)
		oven.ProcessValue.Set(nil, st.ProcessValue)
		oven.PIDOutput.Set(nil, st.PIDOutput)
		oven.ServoAngle.Set(nil, st.ServoAngle)
	})
	engine.SetRunEndObserver(func(reason profile.EndReason) {
		oven.ProfileRuns.Inc(metrics.Labels{"reason": reason.String()})
	})

	// Telemetry
	var publisher telemetry.Publisher
	if mqttBroker != "" {
		real, err := telemetry.NewRealPublisher(mqttBroker, "reflow-oven")
		if err != nil {
			// The oven must come up without its broker; telemetry is
			// best-effort.
			rootLogger.WithError(err).Warn("mqtt unavailable, telemetry disabled")
		} else {
			publisher = real
			defer real.Close()
			real.PublishSystem(telemetry.SystemEvent{
				Timestamp: time.Now(),
				Event:     "STARTUP",
				Retained:  true,
			})
		}
	}

	// Data logger
	dataLogger, err := datalog.New(func() datalog.DataPoint {
		st := controller.GetStatus()
		point := datalog.DataPoint{
			Setpoint:     st.Setpoint,
			PV:           st.ProcessValue,
			PIDOutput:    st.PIDOutput,
			P:            st.PIDTerms.P,
			I:            st.PIDTerms.I,
			D:            st.PIDTerms.D,
			Temps:        sensors.Temperatures(),
			RelayBitmask: st.RelayBitmask,
			ServoAngle:   st.ServoAngle,
			Running:      st.Running,
		}
		if publisher != nil {
			if err := publisher.PublishDataPoint(point); err != nil {
				rootLogger.WithError(err).Debug("datapoint publish failed")
			}
		}
		return point
	}, mgr.DataLogIntervalMs(), mgr.DataLogWindowMs(), rootLogger.WithPrefix("datalog"))
	if err != nil {
		return fmt.Errorf("build data logger: %w", err)
	}
	if mgr.DataLogEnabled() {
		if err := dataLogger.Start(); err != nil {
			return err
		}
		defer dataLogger.Stop()
	}

	// Web surface
	server := web.New(web.Config{
		Addr:       listenAddr,
		Controller: controller,
		Engine:     engine,
		DataLogger: dataLogger,
		Metrics:    oven,
		Logger:     rootLogger.WithPrefix("web"),
	})
	go func() {
		if err := server.Start(); err != nil {
			rootLogger.WithError(err).Error("web server failed")
		}
	}()
	defer server.Close()

	// Control tick task
	stopTick := make(chan struct{})
	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		ticker := time.NewTicker(control.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopTick:
				return
			case <-ticker.C:
				if err := controller.RunTick(); err != nil {
					rootLogger.WithError(err).Warn("tick error")
				}
			}
		}
	}()

	rootLogger.Info("startup complete")

	// Run until signalled.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	rootLogger.Info("received %s, shutting down", received)

	if publisher != nil {
		publisher.PublishSystem(telemetry.SystemEvent{
			Timestamp: time.Now(),
			Event:     "SHUTDOWN",
			Reason:    received.String(),
			Retained:  true,
		})
	}

	close(stopTick)
	<-tickDone

	if engine.IsRunning() {
		engine.CancelRunning(profile.EndControllerStopped)
	}
	if controller.IsRunning() {
		if err := controller.Stop(); err != nil {
			rootLogger.WithError(err).Error("stop on shutdown failed")
		}
	}

	return nil
}
