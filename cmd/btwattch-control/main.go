package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/btwattch/rs-btwattch2/internal/log"
	"github.com/btwattch/rs-btwattch2/pkg/cli"
	"github.com/btwattch/rs-btwattch2/pkg/coordinator"
	"github.com/btwattch/rs-btwattch2/pkg/entry"
	"github.com/btwattch/rs-btwattch2/pkg/protocol"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usage = `
 * Commands that listen to devices (scan, read, watch) require a Bluetooth adapter.
 * Devices found by scan can be added with pick; others can be added by address with add.
 * Running without a COMMAND starts an interactive shell that keeps the adapter open.`

func Usage() {
	fmt.Printf("Usage: %s [OPTION...] COMMAND [ARG...]\n", os.Args[0])
	fmt.Printf("\nRun %s help COMMAND for more information. Valid COMMANDs are listed below.", os.Args[0])
	fmt.Println("")
	fmt.Println(usage)
	fmt.Println("")

	fmt.Printf("Available OPTIONs:\n")
	flag.PrintDefaults()
	fmt.Println("")
	fmt.Printf("Available COMMANDs:\n")
	maxLength := 0
	var labels []string
	for command := range commands {
		labels = append(labels, command)
		if len(command) > maxLength {
			maxLength = len(command)
		}
	}
	sort.Strings(labels)
	for _, command := range labels {
		info := commands[command]
		fmt.Printf("  %s%s %s\n", command, strings.Repeat(" ", maxLength-len(command)), info.help)
	}
}

func runCommand(a *app, args []string, timeout time.Duration) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if info, ok := commands[args[0]]; ok && !info.streaming {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := execute(ctx, a, args); err != nil {
		var abort *entry.AbortError
		if errors.As(err, &abort) {
			writeErr("Aborted: %s", abort.Reason)
		} else if protocol.IsDecodeError(err) {
			writeErr("Received a malformed frame: %s", err)
		} else if errors.Is(err, context.DeadlineExceeded) {
			writeErr("Timed out waiting for the device. Is it in range and powered on?")
		} else {
			writeErr("Failed to execute command: %s", err)
		}
		return 1
	}
	return 0
}

func runInteractiveShell(a *app, timeout time.Duration) int {
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Printf("> "); scanner.Scan(); fmt.Printf("> ") {
		args, err := shlex.Split(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return 0
		}
		if err != nil {
			writeErr("Invalid command: %s", err)
			continue
		}
		runCommand(a, args, timeout)
	}
	if err := scanner.Err(); err != nil {
		writeErr("Error reading command: %s", err)
		return 1
	}
	return 0
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	var (
		debug          bool
		commandTimeout time.Duration
	)
	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %s\n", err)
		os.Exit(1)
	}
	flag.Usage = Usage
	flag.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flag.DurationVar(&commandTimeout, "command-timeout", 30*time.Second, "Set timeout for commands that wait for a device.")

	config.RegisterCommandLineFlags()
	flag.Parse()
	config.ReadFromEnvironment()
	if err := config.ApplyLogLevel(); err != nil {
		writeErr("%s", err)
		return
	}
	if !debug {
		if debugEnv, ok := os.LookupEnv("BTWATTCH_VERBOSE"); ok {
			debug = debugEnv != "false" && debugEnv != "0"
		}
	}
	if debug {
		log.SetLevel(log.LevelDebug)
	}

	args := flag.Args()
	needsBLE := len(args) == 0
	if len(args) > 0 {
		if args[0] == "help" {
			if len(args) == 1 {
				Usage()
				return
			}
			info, ok := commands[args[1]]
			if !ok {
				writeErr("Unrecognized command: %s", args[1])
				return
			}
			info.Usage(os.Stdout, args[1])
			status = 0
			return
		}
		info, ok := commands[args[0]]
		if !ok {
			writeErr("Unrecognized command: %s", args[0])
			return
		}
		config.Flags = info.flags()
		needsBLE = info.requiresBLE
	}

	a := &app{config: config, out: os.Stdout}
	if a.entries, err = config.Entries(); err != nil {
		writeErr("Error loading entries: %s", err)
		return
	}
	if a.devices, err = config.DeviceCache(); err != nil {
		writeErr("Error loading device cache: %s", err)
		return
	}
	defer func() {
		if err := config.SaveDeviceCache(); err != nil {
			writeErr("Error saving device cache: %s", err)
		}
	}()

	if needsBLE {
		if a.scanner, err = config.NewScanner(); err != nil {
			writeErr("Error: %s", err)
			return
		}
		defer a.scanner.Close()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := coordinator.KeepScanning(ctx, a.scanner, 0); err != nil {
				writeErr("Error: %s", err)
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	if len(args) > 0 {
		status = runCommand(a, args, commandTimeout)
	} else {
		status = runInteractiveShell(a, commandTimeout)
	}
}
