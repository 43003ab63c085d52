// sensorfmt writes a fresh calibration record to a sensor module's EEPROM.
// It is a bench provisioning tool: plug the new sensor into a channel,
// describe it on the command line, and the blank chip gets its identity,
// base detector model and frequency catalog.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/homelab-rf/rfpm/pkg/bus"
	"github.com/homelab-rf/rfpm/pkg/cal"
	"github.com/homelab-rf/rfpm/pkg/config"
)

func main() {
	var (
		configFlag    = flag.String("config", "config.yaml", "Configuration file path")
		portFlag      = flag.String("p", "", "Serial port override (e.g., /dev/ttyACM0)")
		channelFlag   = flag.Int("channel", 1, "Meter channel the sensor is plugged into (1 or 2)")
		typeFlag      = flag.String("type", "", "Sensor type string (max 8 chars)")
		serialFlag    = flag.String("serial", "", "Sensor serial number (max 12 chars)")
		slopeFlag     = flag.Float64("slope", 40.0, "Base detector slope (dB/V)")
		interceptFlag = flag.Float64("intercept", -84.0, "Base detector intercept (dBm)")
		freqsFlag     = flag.String("freqs", "", "Comma-separated calibration frequencies in MHz (max 16)")
		readFlag      = flag.Bool("read", false, "Read and print the current record instead of writing")
	)
	flag.Parse()

	log := logrus.New()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Bus.Port = *portFlag
	}
	if *channelFlag < 1 || *channelFlag > 2 {
		log.Fatalf("Channel must be 1 or 2, got %d", *channelFlag)
	}

	conn, err := bus.OpenSerial(cfg.Bus.Port, cfg.Bus.Baud, cfg.Bus.Timeout)
	if err != nil {
		log.Fatalf("Failed to open bus: %v", err)
	}
	b := bus.New(conn)
	defer b.Close()

	store := cal.NewStore(b, *channelFlag-1)

	if *readFlag {
		if err := printRecord(store); err != nil {
			log.Fatalf("Read failed: %v", err)
		}
		return
	}

	if *typeFlag == "" || *serialFlag == "" || *freqsFlag == "" {
		flag.Usage()
		os.Exit(2)
	}

	freqs, err := parseFreqs(*freqsFlag)
	if err != nil {
		log.Fatalf("Invalid frequency list: %v", err)
	}

	id := cal.Identity{Type: *typeFlag, Serial: *serialFlag}
	err = store.FormatNew(id, float32(*slopeFlag), float32(*interceptFlag), freqs)
	if err != nil {
		log.Fatalf("Format failed: %v", err)
	}

	log.Infof("Sensor %s/%s formatted on channel %d with %d calibration frequencies",
		id.Type, id.Serial, *channelFlag, len(freqs))
}

func parseFreqs(list string) ([]uint16, error) {
	parts := strings.Split(list, ",")
	if len(parts) > cal.MaxPoints {
		return nil, fmt.Errorf("%d frequencies, maximum is %d", len(parts), cal.MaxPoints)
	}
	freqs := make([]uint16, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("bad frequency %q: %w", p, err)
		}
		freqs = append(freqs, uint16(v))
	}
	sort.Slice(freqs, func(i, j int) bool { return freqs[i] < freqs[j] })
	return freqs, nil
}

func printRecord(store *cal.Store) error {
	rec, err := store.Load()
	if err != nil {
		return err
	}
	fmt.Printf("Type:       %s\n", rec.Identity.Type)
	fmt.Printf("Serial:     %s\n", rec.Identity.Serial)
	fmt.Printf("Slope:      %g dB/V\n", rec.BaseSlope)
	fmt.Printf("Intercept:  %g dBm\n", rec.BaseIntercept)
	fmt.Printf("Catalog:    %v MHz\n", rec.Frequencies)
	if len(rec.Points) == 0 {
		fmt.Println("No calibration points stored.")
		return nil
	}
	fmt.Println("Points:")
	for _, p := range rec.Points {
		fmt.Printf("  %5d MHz  offset %+.3f dB  slope %.6f\n", p.Frequency, p.Offset, p.Slope)
	}
	return nil
}
