package storage_test

import (
	"fmt"

	"github.com/TRENT-OS/rpi-spi-sd/sdcard"
	"github.com/TRENT-OS/rpi-spi-sd/sdcard/hal/sim"
	"github.com/TRENT-OS/rpi-spi-sd/storage"
)

// Write a byte range that straddles a sector boundary, then read it back.
// The simulated card stands in for real hardware; on a board the
// transport comes from the spidev package instead.
func ExampleDevice() {
	card, err := sim.NewCard(sim.NewMemMedia(64), sim.Config{})
	if err != nil {
		fmt.Println(err)
		return
	}
	drv := sdcard.New(card, sdcard.Config{})
	if err := drv.Init(); err != nil {
		fmt.Println(err)
		return
	}

	dev := storage.NewDevice(drv)
	if _, err := dev.WriteRange([]byte("hello, sd"), 508); err != nil {
		fmt.Println(err)
		return
	}

	buf := make([]byte, 9)
	if _, err := dev.ReadRange(buf, 508); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("%s\n", buf)

	size, err := dev.Size()
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(size, "bytes")
	// Output:
	// hello, sd
	// 32768 bytes
}
