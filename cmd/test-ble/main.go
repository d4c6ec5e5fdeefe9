package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/btwattch/rs-btwattch2/internal/log"
	"github.com/btwattch/rs-btwattch2/pkg/cli"
	"github.com/btwattch/rs-btwattch2/pkg/connector"
	"github.com/btwattch/rs-btwattch2/pkg/connector/ble"
	"github.com/btwattch/rs-btwattch2/pkg/frame"
)

var testScan = flag.Bool("testScan", false, "Also test BLE scan")

func main() {
	config, err := cli.NewConfig(cli.FlagBLE)
	if err != nil {
		log.Error("Failed to load configuration: %v", err)
		return
	}
	config.RegisterCommandLineFlags()
	flag.Parse()
	config.ReadFromEnvironment()
	log.SetLevel(log.LevelDebug)

	if config.BtAdapterID != "" {
		log.Info("Trying to use BLE adapter: %s", config.BtAdapterID)
	} else {
		log.Info("Using first available BLE device")
	}

	adapter, err := config.NewAdapter()
	if err != nil {
		log.Error("Failed to initialize BLE device: %v", err)
		return
	}
	scanner := ble.NewScanner(adapter)
	defer scanner.Close()

	log.Info("BLE adapter initialized")

	if !*testScan {
		return
	}

	conn, err := scanner.Listen(connector.Filter{ManufacturerID: frame.ManufacturerID})
	if err != nil {
		log.Error("Failed to listen: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	doneChan := make(chan struct{})
	go func() {
		if err := scanner.Run(ctx); err != nil {
			log.Error("Scan failed: %v", err)
		}
		close(doneChan)
	}()
	go func() {
		for payload := range conn.Receive() {
			model, ok := frame.Identify(payload.LocalName, payload.Data)
			if !ok {
				log.Info("%s: unrecognized payload % x", payload.Address, payload.Data)
				continue
			}
			reading, err := frame.Parse(model, payload.Data)
			if err != nil {
				log.Warning("%s: %v", payload.Address, err)
				continue
			}
			log.Info("%s (%s, %d dBm): %v", payload.Address, model.ProductName(), payload.RSSI, reading)
		}
	}()
	log.Info("Scanning for RATOC Systems devices until interrupted")

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	<-signalChan
	log.Info("Stopping scan")
	cancel()
	<-doneChan
}
