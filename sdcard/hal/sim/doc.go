// Package sim implements a simulated SD card behind the transport
// interface.
//
// The simulator is primarily intended for testing: it lets the whole
// driver stack (protocol engine, block I/O, address translation, and
// the storage daemon) run against a protocol-accurate card without
// hardware.
//
// # Protocol model
//
// The simulated [Card] is a byte-level state machine. Every transferred
// byte advances it exactly as the wire would: command frames are parsed
// as they arrive, responses are emitted on the following transfers
// (never on the transfer that completes a frame), reads deliver framed
// data packets, and writes capture the token, the payload, and the
// checksum bytes before answering with a data response and busy
// signalling. While deselected the card ignores traffic entirely.
//
// Three personalities cover the generations the driver distinguishes:
//
//   - Config{V1: true}: rejects the version probe, generation-1 path
//   - Config{}: generation 2, standard capacity, byte addressed
//   - Config{HighCapacity: true}: generation 2, sector addressed
//
// The size descriptor is synthesized from the media geometry, so the
// sector count the driver decodes always matches the backing [Media].
//
// # Fault injection
//
// Config carries switches for the failure modes worth testing: a mute
// card (command timeouts), withheld data tokens (read timeouts),
// rejected writes, a write budget that runs out mid-transfer, reset
// garbage, and block-length failures.
//
// # Media backends
//
//	media := sim.NewMemMedia(2048)              // volatile
//	media, _ := sim.OpenFileMedia(fs, path, 0)  // image file on any afero.Fs
//	card, _ := sim.NewCard(media, sim.Config{})
//
// A FileMedia over [afero.NewMemMapFs] gives hermetic persistence tests;
// the daemon uses the same type over the OS filesystem.
package sim
