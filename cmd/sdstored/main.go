// Package main provides sdstored, an HTTP daemon exposing an SD card on
// an SPI bus as byte-addressed storage.
//
// The daemon owns the card end to end: it opens the transport, runs the
// initialization handshake, and serializes every request onto the single
// bus. Clients address storage by byte offset and length; the sector
// arithmetic stays on the server side.
//
// Usage:
//
//	sdstored --image disk.img [options]
//	sdstored --spi SPI0.0 --cs GPIO8 [options]
//
// Options:
//
//	--image path            back a simulated card with an image file
//	--sectors N             image size in 512-byte sectors (default 65536)
//	--high-capacity         simulate a high-capacity card
//	--spi name              SPI port registry name, e.g. SPI0.0
//	--cs name               gpio registry name of the select line, e.g. GPIO8
//	--listen addr           HTTP listen address (default :8080)
//	--max-transfer N        per-request byte cap, 0 for none (default 1 MiB)
//	--init-clock-hz N       serial clock during the handshake (default 400 kHz)
//	--transfer-clock-hz N   serial clock once the card is ready (default 25 MHz)
//	--log-level level       debug, info, warn, or error (default info)
//	--log-format format     text or json (default text)
//	--cpuprofile path       write a CPU profile (profile build tag)
//	--memprofile path       write a heap profile on exit (profile build tag)
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"periph.io/x/host/v3"

	"github.com/TRENT-OS/rpi-spi-sd/pkg"
	"github.com/TRENT-OS/rpi-spi-sd/pkg/prof"
	"github.com/TRENT-OS/rpi-spi-sd/sdcard"
	"github.com/TRENT-OS/rpi-spi-sd/sdcard/hal"
	"github.com/TRENT-OS/rpi-spi-sd/sdcard/hal/sim"
	"github.com/TRENT-OS/rpi-spi-sd/sdcard/hal/spidev"
	"github.com/TRENT-OS/rpi-spi-sd/storage"
)

const component = pkg.ComponentServer

const shutdownTimeout = 5 * time.Second

type options struct {
	image        string
	sectors      int64
	highCapacity bool

	spiPort string
	csName  string

	listen          string
	maxTransfer     int
	initClockHz     uint32
	transferClockHz uint32

	logLevel  string
	logFormat string

	cpuProfile string
	memProfile string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		pkg.LogError(component, "daemon failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:           "sdstored",
		Short:         "HTTP storage daemon for SD cards on SPI",
		Long:          "Serve byte-addressed reads, writes, and erases over HTTP, backed by an SD card on an SPI bus or by a simulated card over an image file.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(&opts)
		},
	}

	root.Flags().StringVar(&opts.image, "image", "", "image file backing a simulated card (created if missing)")
	root.Flags().Int64Var(&opts.sectors, "sectors", 65536, "simulated card size in 512-byte sectors, 0 to size from the existing image")
	root.Flags().BoolVar(&opts.highCapacity, "high-capacity", false, "simulate a high-capacity card with sector addressing")
	root.Flags().StringVar(&opts.spiPort, "spi", "", "SPI port registry name, e.g. SPI0.0")
	root.Flags().StringVar(&opts.csName, "cs", "", "gpio registry name of the select line, e.g. GPIO8")
	root.Flags().StringVar(&opts.listen, "listen", ":8080", "HTTP listen address")
	root.Flags().IntVar(&opts.maxTransfer, "max-transfer", 1<<20, "per-request transfer cap in bytes, 0 for none")
	root.Flags().Uint32Var(&opts.initClockHz, "init-clock-hz", 400_000, "serial clock during the initialization handshake")
	root.Flags().Uint32Var(&opts.transferClockHz, "transfer-clock-hz", 25_000_000, "serial clock once the card is ready")
	root.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	root.Flags().StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	root.Flags().StringVar(&opts.cpuProfile, "cpuprofile", "", "write a CPU profile to this file")
	root.Flags().StringVar(&opts.memProfile, "memprofile", "", "write a heap profile to this file on exit")

	return root
}

func run(opts *options) error {
	if err := configureLogging(opts.logLevel, opts.logFormat); err != nil {
		return err
	}

	if opts.cpuProfile != "" {
		if err := prof.StartCPU(opts.cpuProfile); err != nil {
			return fmt.Errorf("cpu profile: %w", err)
		}
		defer prof.StopCPU()
	}

	transport, closeTransport, err := openTransport(opts)
	if err != nil {
		return err
	}
	if closeTransport != nil {
		defer closeTransport()
	}

	card := sdcard.New(transport, sdcard.Config{
		InitClockHz:     opts.initClockHz,
		TransferClockHz: opts.transferClockHz,
	})
	if err := card.Init(); err != nil {
		return fmt.Errorf("card init: %w", err)
	}
	pkg.LogInfo(component, "card initialized",
		"type", card.Type(),
		"sectors", card.Sectors())

	dev := storage.NewDevice(card)
	dev.SetMaxTransfer(opts.maxTransfer)

	srv := newServer(dev)
	httpSrv := &http.Server{
		Addr:     opts.listen,
		Handler:  handlers.RecoveryHandler()(handlers.LoggingHandler(os.Stdout, srv.handler())),
		ErrorLog: log.New(os.Stderr, "http: ", log.LstdFlags),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		pkg.LogInfo(component, "shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			pkg.LogWarn(component, "shutdown incomplete", "error", err)
		}
	}()

	pkg.LogInfo(component, "listening", "addr", opts.listen)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if opts.memProfile != "" {
		if err := prof.Write(prof.ProfileHeap, opts.memProfile); err != nil {
			pkg.LogWarn(component, "heap profile failed", "error", err)
		}
	}

	pkg.LogInfo(component, "server stopped")
	return nil
}

// openTransport builds the transport named by the flags: a simulated
// card over an image file, or a hardware SPI port. The returned closer
// releases whatever the transport holds open.
func openTransport(opts *options) (hal.Transport, func(), error) {
	switch {
	case opts.image != "" && opts.spiPort != "":
		return nil, nil, errors.New("--image and --spi are mutually exclusive")

	case opts.image != "":
		media, err := sim.OpenFileMedia(afero.NewOsFs(), opts.image, opts.sectors)
		if err != nil {
			return nil, nil, err
		}
		card, err := sim.NewCard(media, sim.Config{HighCapacity: opts.highCapacity})
		if err != nil {
			media.Close()
			return nil, nil, err
		}
		pkg.LogInfo(component, "simulated card",
			"image", opts.image,
			"sectors", media.Sectors(),
			"highCapacity", opts.highCapacity)
		return card, func() { media.Close() }, nil

	case opts.spiPort != "":
		if opts.csName == "" {
			return nil, nil, errors.New("--cs is required with --spi")
		}
		if _, err := host.Init(); err != nil {
			return nil, nil, fmt.Errorf("periph host: %w", err)
		}
		t, err := spidev.Open(spidev.Config{
			Port:    opts.spiPort,
			CS:      opts.csName,
			ClockHz: opts.initClockHz,
		})
		if err != nil {
			return nil, nil, err
		}
		return t, func() { t.Close() }, nil

	default:
		return nil, nil, errors.New("either --image or --spi is required")
	}
}

func configureLogging(level, format string) error {
	lv, err := pkg.ParseLogLevel(level)
	if err != nil {
		return err
	}
	fm, err := pkg.ParseLogFormat(format)
	if err != nil {
		return err
	}
	pkg.SetLogLevel(lv)
	pkg.SetLogFormat(fm)
	return nil
}
