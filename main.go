// Command o2hal runs the oxygen-sensor HAL daemon: embedded config, the HAL
// itself, heartbeat, Prometheus metrics and the MQTT bridge, all joined by
// the in-process bus.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"o2hal/bus"
	"o2hal/services/bridge"
	"o2hal/services/config"
	"o2hal/services/hal"
	"o2hal/services/heartbeat"
	"o2hal/services/metrics"
)

var (
	device   = flag.String("device", "sim", "embedded config to publish (sim|pi)")
	sim      = flag.Bool("sim", false, "serve simulated I2C buses instead of the host's")
	logLevel = flag.String("log-level", "info", "logrus level (trace|debug|info|warn|error)")
	monitor  = flag.Bool("monitor", false, "log every hal/# message at debug level")
	queueLen = flag.Int("queue", 64, "per-subscription bus queue length")
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	flag.Parse()

	lvl, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.WithError(err).Fatal("bad -log-level")
	}
	log.SetLevel(lvl)
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(*queueLen)

	var buses hal.I2CBusFactory
	if *sim {
		buses = hal.DefaultSimFactory()
	} else {
		pf := hal.DefaultI2CFactory()
		if c, ok := pf.(interface{ Close() error }); ok {
			defer c.Close()
		}
		buses = pf
	}

	if *monitor {
		go runMonitor(ctx, b.NewConnection("monitor"))
	}

	go hal.Run(ctx, b.NewConnection("hal"), buses, logger)
	go metrics.New(logger).Run(ctx, b.NewConnection("metrics"))
	go bridge.Start(ctx, b.NewConnection("bridge"), logger)
	if err := heartbeat.New(logger).Start(ctx, b.NewConnection("heartbeat")); err != nil {
		log.WithError(err).Fatal("heartbeat")
	}

	config.NewConfigService(logger).Start(config.WithDevice(ctx, *device), b.NewConnection("config"))

	log.WithFields(log.Fields{
		"device":  *device,
		"sim":     *sim,
		"drivers": hal.DeviceTypes(),
	}).Info("o2hal started")

	<-ctx.Done()
	log.Info("shutting down")
}

// runMonitor logs HAL traffic for diagnostics.
func runMonitor(ctx context.Context, conn *bus.Connection) {
	sub := conn.Subscribe(bus.T("hal", bus.MultiWild))
	defer conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			log.WithFields(log.Fields{
				"topic":    m.Topic.String(),
				"retained": m.Retained,
			}).Debugf("[monitor] %+v", m.Payload)
		}
	}
}
