package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/homelab-rf/rfpm/pkg/bus"
	"github.com/homelab-rf/rfpm/pkg/cal"
	"github.com/homelab-rf/rfpm/pkg/config"
	"github.com/homelab-rf/rfpm/pkg/discovery"
	"github.com/homelab-rf/rfpm/pkg/display"
	"github.com/homelab-rf/rfpm/pkg/meter"
	"github.com/homelab-rf/rfpm/pkg/monitor"
	"github.com/homelab-rf/rfpm/pkg/sched"
	"github.com/homelab-rf/rfpm/pkg/scpi"
	"github.com/homelab-rf/rfpm/pkg/server"
)

func main() {
	var (
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		portFlag   = flag.String("p", "", "Serial port override (e.g., /dev/ttyACM0)")
		simFlag    = flag.Bool("sim", false, "Use a simulated bus instead of hardware")
		quietFlag  = flag.Bool("quiet", false, "Suppress the console readout")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Bus.Port = *portFlag
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	}

	conn, err := openBus(cfg, *simFlag)
	if err != nil {
		log.Fatalf("Failed to open bus: %v", err)
	}
	b := bus.New(conn)
	defer b.Close()

	m := meter.New(cfg, b, log)
	m.DetectAll()

	monitor.Register()
	if cfg.Network.MetricsPort > 0 {
		monitor.StartMetricsServer(cfg.Network.MetricsPort, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := scpi.NewDispatcher(m, cfg.Identity, server.LinkInfo{})
	srv := server.New(cfg.Network, d, log)

	s := sched.New(log)
	s.Add("sample", cfg.Measurement.SampleInterval, m.Sample)
	if !*quietFlag {
		s.Add("display", cfg.Measurement.DisplayInterval,
			display.RefreshTask(m, display.Console{Out: os.Stdout}))
	}
	go s.Run(ctx)

	go func() {
		if err := discovery.Announce(ctx, cfg, log); err != nil {
			log.WithError(err).Warn("mDNS announcement unavailable")
		}
	}()

	if err := srv.Serve(ctx); err != nil {
		log.Fatalf("SCPI server failed: %v", err)
	}
	log.Info("shutdown complete")
}

// openBus connects to the acquisition hardware, or to the simulator with
// one sensor fitted when -sim is given.
func openBus(cfg *config.Config, simulate bool) (bus.Conn, error) {
	if !simulate {
		s, err := bus.OpenSerial(cfg.Bus.Port, cfg.Bus.Baud, cfg.Bus.Timeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	sim := bus.NewSim(cfg.Simulator.NoiseLevel)
	rec := &cal.Record{
		Identity:      cal.Identity{Type: "SIM-10", Serial: "SIM001"},
		BaseSlope:     40,
		BaseIntercept: -84,
		Frequencies:   []uint16{100, 500, 1000, 3000},
	}
	img, err := cal.Marshal(rec)
	if err != nil {
		return nil, err
	}
	sim.PlugSensor(0, img)
	// Program the detector voltage that reads back the configured power.
	sim.SetVoltage(1, (cfg.Simulator.PowerDBm-float64(rec.BaseIntercept))/float64(rec.BaseSlope))
	return sim, nil
}
