package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/btwattch/rs-btwattch2/pkg/cache"
	"github.com/btwattch/rs-btwattch2/pkg/cli"
	"github.com/btwattch/rs-btwattch2/pkg/connector"
	"github.com/btwattch/rs-btwattch2/pkg/connector/ble"
	"github.com/btwattch/rs-btwattch2/pkg/device"
	"github.com/btwattch/rs-btwattch2/pkg/entry"
	"github.com/btwattch/rs-btwattch2/pkg/frame"
	"github.com/btwattch/rs-btwattch2/pkg/hass"
	"github.com/btwattch/rs-btwattch2/pkg/session"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrRequiresBLE     = errors.New("command requires a Bluetooth adapter")
	ErrUnknownCommand  = errors.New("unrecognized command")
)

const defaultScanDuration = 10 * time.Second

type Argument struct {
	name string
	help string
}

// app holds the resources shared by commands. scanner is nil unless a Bluetooth adapter was opened.
type app struct {
	config  *cli.Config
	scanner *ble.Scanner
	entries *entry.Store
	devices *cache.DeviceCache
	out     io.Writer
}

type Handler func(ctx context.Context, a *app, args map[string]string) error

type Command struct {
	help         string
	requiresBLE  bool // True if command listens to advertisements
	requiresMQTT bool // True if command talks to the broker or the keyring
	streaming    bool // True if command runs until interrupted instead of timing out
	args         []Argument
	optional     []Argument
	handler      Handler
}

// flags returns the configuration options used by c.
func (c *Command) flags() cli.Flag {
	f := cli.FlagStore
	if c.requiresBLE {
		f |= cli.FlagBLE
	}
	if c.requiresMQTT {
		f |= cli.FlagMQTT
	}
	return f
}

func checkReadiness(commandName string, haveBLE bool) (*Command, error) {
	info, ok := commands[commandName]
	if !ok {
		return nil, ErrUnknownCommand
	}
	if info.requiresBLE && !haveBLE {
		return nil, ErrRequiresBLE
	}
	return info, nil
}

func execute(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, err := checkReadiness(args[0], a.scanner != nil)
	if err != nil {
		return err
	}

	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, a, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(a.out, args[0])
	}
	return err
}

func (c *Command) Usage(w io.Writer, name string) {
	fmt.Fprintf(w, "Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Fprintf(w, " %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Fprintf(w, " [")
	}
	for _, arg := range c.optional {
		fmt.Fprintf(w, " %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Fprintf(w, " ]")
	}
	fmt.Fprintf(w, "\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Fprintf(w, "    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Fprintf(w, "    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

// optionalDuration parses an optional DURATION argument. A missing argument yields fallback.
func optionalDuration(args map[string]string, fallback time.Duration) (time.Duration, error) {
	value, ok := args["DURATION"]
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: DURATION must be positive, such as 30s or 5m", ErrCommandLineArgs)
	}
	return d, nil
}

// optionalModel parses an optional MODEL argument. A missing argument yields the empty Model, which
// lets the session identify the device from its advertisements.
func optionalModel(args map[string]string) (frame.Model, error) {
	value, ok := args["MODEL"]
	if !ok {
		return "", nil
	}
	model, err := frame.ParseModel(value)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCommandLineArgs, err)
	}
	return model, nil
}

func (a *app) newSession(args map[string]string) (*session.Session, error) {
	model, err := optionalModel(args)
	if err != nil {
		return nil, err
	}
	address := device.NormalizeMAC(args["ADDRESS"])
	if !device.ValidMAC(address) {
		return nil, fmt.Errorf("%w: invalid ADDRESS '%s'", ErrCommandLineArgs, args["ADDRESS"])
	}
	name := ""
	if seen, ok := a.devices.Get(address); ok {
		name = seen.DisplayName()
		if model == "" {
			model = seen.Model
		}
	}
	target := device.Target{Address: address, Name: name, Model: model}
	return session.New(session.NewContext(a.scanner), target)
}

func printEntry(w io.Writer, e entry.Entry) {
	if e.AutoDiscover {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, "*", "-", e.Title)
		return
	}
	model := e.Model
	if model == "" {
		model = frame.ModelBTWATTCH2
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Address, model, e.Name)
}

func printDevices(w io.Writer, devices []cache.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tMODEL\tRSSI\tLAST SEEN\tNAME")
	for _, d := range devices {
		model := string(d.Model)
		if model == "" {
			model = "?"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", d.Address, model, d.RSSI, d.LastSeen.Format(time.Stamp), d.DisplayName())
	}
	tw.Flush()
}

func added(w io.Writer, e entry.Entry, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Added %s (%s)\n", e.Title, e.ID)
	return nil
}

var commands = map[string]*Command{
	"scan": &Command{
		help:        "Listen for RATOC Systems devices and remember them for pick",
		requiresBLE: true,
		streaming:   true,
		optional: []Argument{
			Argument{name: "DURATION", help: "How long to listen (e.g., 30s). Defaults to 10s."},
		},
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			duration, err := optionalDuration(args, defaultScanDuration)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(ctx, duration)
			defer cancel()

			conn, err := a.scanner.Listen(connector.Filter{ManufacturerID: frame.ManufacturerID})
			if err != nil {
				return err
			}
			defer conn.Close()

			seen := make(map[string]bool)
			for {
				select {
				case <-ctx.Done():
					fmt.Fprintf(a.out, "Found %d device(s)\n", len(seen))
					return a.config.SaveDeviceCache()
				case payload, ok := <-conn.Receive():
					if !ok {
						return conn.Err()
					}
					e := a.devices.Observe(payload)
					if !seen[e.Address] {
						seen[e.Address] = true
						fmt.Fprintf(a.out, "%s\t%s\t%d dBm\n", e.Address, e.DisplayName(), e.RSSI)
					}
				}
			}
		},
	},
	"discovered": &Command{
		help: "List devices found by scan that are not configured yet",
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			candidates := a.entries.Candidates(a.devices)
			if len(candidates) == 0 {
				return entry.ErrNoDevicesFound
			}
			printDevices(a.out, candidates)
			return nil
		},
	},
	"entries": &Command{
		help: "List configured entries",
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tADDRESS\tMODEL\tNAME")
			for _, e := range a.entries.List() {
				printEntry(tw, e)
			}
			return tw.Flush()
		},
	},
	"steps": &Command{
		help: "List the ways an entry can currently be added",
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			for _, step := range a.entries.Steps() {
				fmt.Fprintln(a.out, step)
			}
			return nil
		},
	},
	"add-auto": &Command{
		help: "Add an entry that exposes every device in range",
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			e, err := a.entries.AutoDiscover()
			return added(a.out, e, err)
		},
	},
	"add": &Command{
		help: "Add an entry for the device at ADDRESS",
		args: []Argument{
			Argument{name: "ADDRESS", help: "MAC address, with or without separators"},
		},
		optional: []Argument{
			Argument{name: "NAME", help: "Display name. Defaults to the model and the last three octets."},
			Argument{name: "MODEL", help: "One of: BTWATTCH2, BTEVS1. Defaults to BTWATTCH2."},
		},
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			model, err := optionalModel(args)
			if err != nil {
				return err
			}
			e, err := a.entries.Manual(args["ADDRESS"], args["NAME"], model)
			return added(a.out, e, err)
		},
	},
	"pick": &Command{
		help: "Add an entry for a device listed by discovered",
		args: []Argument{
			Argument{name: "ADDRESS", help: "MAC address of the discovered device"},
		},
		optional: []Argument{
			Argument{name: "NAME", help: "Display name. Defaults to the advertised name."},
		},
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			e, err := a.entries.PickDevice(a.devices, args["ADDRESS"], args["NAME"])
			return added(a.out, e, err)
		},
	},
	"confirm": &Command{
		help: "Add an entry for a device that announced itself during scan",
		args: []Argument{
			Argument{name: "ADDRESS", help: "MAC address printed by scan"},
		},
		optional: []Argument{
			Argument{name: "NAME", help: "Display name. Defaults to the advertised name."},
		},
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			advertised, ok := a.devices.Get(args["ADDRESS"])
			if !ok {
				return fmt.Errorf("%s has not been seen by scan: %w", args["ADDRESS"], entry.ErrNoDevicesFound)
			}
			e, err := a.entries.Discovered(advertised, args["NAME"])
			return added(a.out, e, err)
		},
	},
	"remove": &Command{
		help: "Remove an entry",
		args: []Argument{
			Argument{name: "ENTRY", help: "Entry ID or device MAC address"},
		},
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			e, err := a.entries.Remove(args["ENTRY"])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Removed %s (%s)\n", e.Title, e.ID)
			return nil
		},
	},
	"forget": &Command{
		help:         "Delete the Home Assistant entities of the device at ADDRESS",
		requiresMQTT: true,
		args: []Argument{
			Argument{name: "ADDRESS", help: "MAC address of the device"},
		},
		optional: []Argument{
			Argument{name: "MODEL", help: "One of: BTWATTCH2, BTEVS1. Defaults to BTWATTCH2."},
		},
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			model, err := optionalModel(args)
			if err != nil {
				return err
			}
			options, err := a.config.MQTTOptions()
			if err != nil {
				return err
			}
			client, err := hass.Dial(options)
			if err != nil {
				return err
			}
			defer client.Close()
			return hass.NewBridge(client, options).Forget(model, device.NormalizeMAC(args["ADDRESS"]))
		},
	},
	"read": &Command{
		help:        "Print one reading of the device at ADDRESS",
		requiresBLE: true,
		args: []Argument{
			Argument{name: "ADDRESS", help: "MAC address of the device"},
		},
		optional: []Argument{
			Argument{name: "MODEL", help: "One of: BTWATTCH2, BTEVS1. Identified from advertisements if omitted."},
		},
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			s, err := a.newSession(args)
			if err != nil {
				return err
			}
			reading, err := s.Read(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %v\n", reading.Model(), reading)
			return nil
		},
	},
	"watch": &Command{
		help:        "Print readings of the device at ADDRESS until interrupted",
		requiresBLE: true,
		streaming:   true,
		args: []Argument{
			Argument{name: "ADDRESS", help: "MAC address of the device"},
		},
		optional: []Argument{
			Argument{name: "MODEL", help: "One of: BTWATTCH2, BTEVS1. Identified from advertisements if omitted."},
			Argument{name: "DURATION", help: "Stop after this long (e.g., 5m)"},
		},
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			if _, ok := args["DURATION"]; ok {
				duration, err := optionalDuration(args, 0)
				if err != nil {
					return err
				}
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			s, err := a.newSession(args)
			if err != nil {
				return err
			}
			err = s.Subscribe(ctx, func(reading frame.Reading, err error) {
				if err != nil {
					fmt.Fprintf(a.out, "%s error: %s\n", time.Now().Format(time.TimeOnly), err)
					return
				}
				fmt.Fprintf(a.out, "%s %v\n", time.Now().Format(time.TimeOnly), reading)
			})
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		},
	},
	"set-password": &Command{
		help:         "Store the MQTT password of -username in the system keyring",
		requiresMQTT: true,
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			password, err := a.config.PromptPassword("MQTT password")
			if err != nil {
				return err
			}
			return a.config.SaveMQTTPassword(password)
		},
	},
	"delete-password": &Command{
		help:         "Remove the MQTT password of -username from the system keyring",
		requiresMQTT: true,
		handler: func(ctx context.Context, a *app, args map[string]string) error {
			return a.config.DeleteMQTTPassword()
		},
	},
}
