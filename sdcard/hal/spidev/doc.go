// Package spidev adapts a host SPI controller to the [hal.Transport]
// interface through periph.io. It targets Linux spidev ports (the
// Raspberry Pi's SPI0, for example) with the card's select line on a
// plain gpio pin, driven manually because the SD handshake does not fit
// the controller's per-transaction select.
//
// The periph host registries must be initialized before a port can be
// opened, typically with host.Init in the program's main.
package spidev
