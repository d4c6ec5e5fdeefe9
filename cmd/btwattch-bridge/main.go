// Btwattch-bridge publishes the readings of configured RATOC Systems devices to Home Assistant.
//
// Devices are added with btwattch-control. The bridge listens to their advertisements, announces
// one Home Assistant entity per measurement through MQTT discovery, and keeps each device's
// availability up to date until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/btwattch/rs-btwattch2/internal/log"
	"github.com/btwattch/rs-btwattch2/pkg/cache"
	"github.com/btwattch/rs-btwattch2/pkg/cli"
	"github.com/btwattch/rs-btwattch2/pkg/coordinator"
	"github.com/btwattch/rs-btwattch2/pkg/entry"
	"github.com/btwattch/rs-btwattch2/pkg/hass"
	"github.com/btwattch/rs-btwattch2/pkg/session"
)

var ErrNoEntries = errors.New("no devices configured; add one with btwattch-control")

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

// coordinatorConfigs returns one coordinator configuration per entry. Auto-discovery skips devices
// that have an entry of their own.
func coordinatorConfigs(entries []entry.Entry, staleAfter, retryInterval time.Duration) ([]coordinator.Config, error) {
	var (
		configs []coordinator.Config
		claimed []string
	)
	for _, e := range entries {
		if !e.AutoDiscover {
			claimed = append(claimed, e.Address)
		}
	}
	for _, e := range entries {
		config, err := e.CoordinatorConfig()
		if err != nil {
			return nil, err
		}
		if config.AutoDiscover {
			config.Ignore = claimed
		}
		config.StaleAfter = staleAfter
		config.RetryInterval = retryInterval
		configs = append(configs, config)
	}
	if len(configs) == 0 {
		return nil, ErrNoEntries
	}
	return configs, nil
}

// remember records devices found by auto-discovery so that btwattch-control can offer them later.
// Entries are refreshed on every update so that the cache keeps recently seen devices.
func remember(devices *cache.DeviceCache) func(*coordinator.Device) {
	record := func(d *coordinator.Device) {
		s := d.Snapshot()
		devices.Update(cache.Entry{
			Address:  s.Address,
			Name:     s.Name,
			Model:    s.Model,
			LastSeen: s.LastUpdate,
		})
	}
	return func(d *coordinator.Device) {
		record(d)
		d.AddListener(record)
	}
}

func run(ctx context.Context, config *cli.Config, publisher hass.Publisher, options hass.Options, staleAfter, retryInterval time.Duration) error {
	store, err := config.Entries()
	if err != nil {
		return fmt.Errorf("error loading entries: %w", err)
	}
	configs, err := coordinatorConfigs(store.List(), staleAfter, retryInterval)
	if err != nil {
		return err
	}
	devices, err := config.DeviceCache()
	if err != nil {
		return err
	}

	scanner, err := config.NewScanner()
	if err != nil {
		return err
	}
	defer scanner.Close()

	bridge := hass.NewBridge(publisher, options)
	sessions := session.NewContext(scanner)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coordinator.KeepScanning(ctx, scanner, retryInterval); err != nil {
			log.Error("Scanner stopped: %s", err)
		}
	}()

	for _, cc := range configs {
		c, err := coordinator.New(sessions, cc)
		if err != nil {
			return err
		}
		detach := bridge.Attach(c)
		defer detach()
		if c.AutoDiscover() {
			defer c.AddNewDeviceCallback(remember(devices))()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				log.Error("Coordinator stopped: %s", err)
			}
		}()
	}
	log.Info("Bridging %d entr(ies) to %s", len(configs), options.Broker)

	<-ctx.Done()
	wg.Wait()
	return config.SaveDeviceCache()
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	var (
		debug         bool
		staleAfter    time.Duration
		retryInterval time.Duration
	)
	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		writeErr("Failed to load configuration: %s", err)
		return
	}
	flag.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flag.DurationVar(&staleAfter, "stale-after", coordinator.DefaultStaleAfter, "Report devices unavailable after this long without a frame. Negative values disable the check.")
	flag.DurationVar(&retryInterval, "retry-interval", 5*time.Second, "Wait this long before restarting a failed scan")
	config.RegisterCommandLineFlags()
	flag.Parse()
	config.ReadFromEnvironment()
	if err := config.ApplyLogLevel(); err != nil {
		writeErr("%s", err)
		return
	}
	if debug {
		log.SetLevel(log.LevelDebug)
	}

	options, err := config.MQTTOptions()
	if err != nil {
		writeErr("Error loading MQTT password: %s", err)
		return
	}
	client, err := hass.Dial(options)
	if err != nil {
		writeErr("Error connecting to %s: %s", options.Broker, err)
		return
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, client, options, staleAfter, retryInterval); err != nil {
		writeErr("Error: %s", err)
		return
	}
	status = 0
}
