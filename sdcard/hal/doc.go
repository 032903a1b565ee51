// Package hal defines the hardware abstraction layer between the SD card
// driver and the physical SPI link.
//
// The driver needs exactly three capabilities from the hardware: exchange
// one byte for one byte, control the card select line, and stall for a
// given duration. Everything else, from framing and response decoding to
// the initialization handshake and data-token sequencing, lives in the
// protocol engine above. Platform code implements [Transport] to run the
// driver on its hardware.
//
// # Implementing a Transport
//
//  1. Create a type whose Transfer clocks exactly one byte full-duplex
//  2. Map SetSelect onto the chip-select mechanism (usually a GPIO,
//     active low)
//  3. Implement Wait as a plain blocking sleep
//  4. Optionally implement [ClockSetter] if the serial clock is tunable;
//     the driver initializes cards at a slow clock and switches up after
//     the handshake
//
// # Implementations
//
// Two implementations ship with the driver:
//
//   - [github.com/TRENT-OS/rpi-spi-sd/sdcard/hal/spidev]: real hardware
//     through periph.io SPI ports and GPIO pins
//   - [github.com/TRENT-OS/rpi-spi-sd/sdcard/hal/sim]: an in-process
//     simulated card used by the driver's own tests
package hal
