package spidev

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/TRENT-OS/rpi-spi-sd/pkg"
	"github.com/TRENT-OS/rpi-spi-sd/sdcard/hal"
)

// defaultClockHz is the serial rate used until the driver programs one.
// Cards must be addressed below 400 kHz until initialization completes.
const defaultClockHz = 400_000

// Config names the host resources the transport claims.
type Config struct {
	// Port is the SPI port registry name, for example "SPI0.0" or
	// "/dev/spidev0.0".
	Port string

	// CS is the gpio registry name of the select line, for example
	// "GPIO8". The select line is driven manually: the initialization
	// handshake clocks the card while deselected and holds the line
	// across several transfers, which rules out the controller-managed
	// select.
	CS string

	// ClockHz is the initial serial rate. Zero selects the 400 kHz
	// initialization-safe default.
	ClockHz uint32
}

// Transport drives an SD card wired to a host SPI controller through
// periph.io. The select line is a plain gpio output, active low.
//
// Like every transport, a Transport is driven by one goroutine at a time.
type Transport struct {
	port spi.PortCloser
	conn spi.Conn
	cs   gpio.PinOut

	txBuf [1]byte
	rxBuf [1]byte
}

// Open claims the SPI port and the select pin named by cfg and leaves the
// card deselected. The caller owns the returned transport and must Close
// it to release the port.
func Open(cfg Config) (*Transport, error) {
	if cfg.ClockHz == 0 {
		cfg.ClockHz = defaultClockHz
	}

	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", cfg.Port, err)
	}

	pin := gpioreg.ByName(cfg.CS)
	if pin == nil {
		port.Close()
		return nil, fmt.Errorf("select pin %q: %w", cfg.CS, pkg.ErrInvalidParameter)
	}
	if err := pin.Out(gpio.High); err != nil {
		port.Close()
		return nil, fmt.Errorf("deselect pin %q: %w", cfg.CS, err)
	}

	t := &Transport{port: port, cs: pin}
	if err := t.SetClock(cfg.ClockHz); err != nil {
		port.Close()
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentTransport, "spi port open",
		"port", cfg.Port, "cs", cfg.CS, "clockHz", cfg.ClockHz)
	return t, nil
}

// Transfer exchanges one byte on the bus.
func (t *Transport) Transfer(tx byte) (byte, error) {
	t.txBuf[0] = tx
	if err := t.conn.Tx(t.txBuf[:], t.rxBuf[:]); err != nil {
		return 0, fmt.Errorf("spi transfer: %w", err)
	}
	return t.rxBuf[0], nil
}

// SetSelect drives the select line; the line itself is active low.
func (t *Transport) SetSelect(assert bool) error {
	level := gpio.High
	if assert {
		level = gpio.Low
	}
	if err := t.cs.Out(level); err != nil {
		return fmt.Errorf("select line: %w", err)
	}
	return nil
}

// Wait blocks for the given duration.
func (t *Transport) Wait(d time.Duration) {
	time.Sleep(d)
}

// SetClock reprograms the serial rate by reconnecting on the claimed
// port. Mode 0, 8 bits per word.
func (t *Transport) SetClock(hz uint32) error {
	if hz == 0 {
		return fmt.Errorf("clock rate 0: %w", pkg.ErrInvalidParameter)
	}
	conn, err := t.port.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		return fmt.Errorf("set clock %d Hz: %w", hz, err)
	}
	t.conn = conn
	pkg.LogDebug(pkg.ComponentTransport, "spi clock set", "clockHz", hz)
	return nil
}

// Close deselects the card and releases the SPI port.
func (t *Transport) Close() error {
	if err := t.SetSelect(false); err != nil {
		t.port.Close()
		return err
	}
	return t.port.Close()
}

var (
	_ hal.Transport   = (*Transport)(nil)
	_ hal.ClockSetter = (*Transport)(nil)
)
