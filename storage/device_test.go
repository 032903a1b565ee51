package storage

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/TRENT-OS/rpi-spi-sd/pkg"
	"github.com/TRENT-OS/rpi-spi-sd/sdcard"
	"github.com/TRENT-OS/rpi-spi-sd/sdcard/hal/sim"
)

// testCardConfig shrinks the retry budgets so failure paths exhaust
// quickly.
var testCardConfig = sdcard.Config{
	CommandAttempts: 50,
	InitAttempts:    50,
	TokenAttempts:   50,
	BusyAttempts:    50,
}

// newTestDevice builds a device over an initialized card backed by
// zeroed in-memory media.
func newTestDevice(tb testing.TB, sectors int64, cfg sim.Config) (*Device, *sim.Card) {
	tb.Helper()
	simCard, err := sim.NewCard(sim.NewMemMedia(sectors), cfg)
	if err != nil {
		tb.Fatalf("sim.NewCard() error = %v", err)
	}
	card := sdcard.New(simCard, testCardConfig)
	if err := card.Init(); err != nil {
		tb.Fatalf("Init() error = %v", err)
	}
	return NewDevice(card), simCard
}

// pattern fills buf with a byte sequence that does not repeat with the
// sector length.
func pattern(buf []byte, seed int) {
	for i := range buf {
		buf[i] = byte((seed + i) % 251)
	}
}

// ===== Range I/O Tests =====

func TestReadAfterWrite(t *testing.T) {
	dev, _ := newTestDevice(t, 64, sim.Config{})

	p := make([]byte, 600)
	pattern(p, 1)
	n, err := dev.WriteRange(p, 500)
	if err != nil {
		t.Fatalf("WriteRange() error = %v", err)
	}
	if n != len(p) {
		t.Errorf("WriteRange() = %d, want %d", n, len(p))
	}

	got := make([]byte, 600)
	n, err = dev.ReadRange(got, 500)
	if err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	if n != len(got) {
		t.Errorf("ReadRange() = %d, want %d", n, len(got))
	}
	if !bytes.Equal(got, p) {
		t.Error("read data differs from written data")
	}
}

// TestWriteBoundaryDecomposition pins down the sector transactions of an
// unaligned write spanning three sectors: the two partially covered
// boundary sectors are read before they are rewritten, the fully covered
// interior sector is written with no preceding read, and the bytes around
// the range survive.
func TestWriteBoundaryDecomposition(t *testing.T) {
	dev, simCard := newTestDevice(t, 64, sim.Config{})

	background := make([]byte, 3*sdcard.SectorSize)
	pattern(background, 7)
	if _, err := dev.WriteRange(background, 0); err != nil {
		t.Fatalf("WriteRange() error = %v", err)
	}

	reads, writes := simCard.DataReads(), simCard.DataWrites()
	p := make([]byte, 600)
	pattern(p, 131)
	n, err := dev.WriteRange(p, 500)
	if err != nil {
		t.Fatalf("WriteRange() error = %v", err)
	}
	if n != 600 {
		t.Errorf("WriteRange() = %d, want 600", n)
	}
	if got := simCard.DataReads() - reads; got != 2 {
		t.Errorf("sector reads = %d, want 2 (both boundary sectors)", got)
	}
	if got := simCard.DataWrites() - writes; got != 3 {
		t.Errorf("sector writes = %d, want 3", got)
	}

	got := make([]byte, len(background))
	if _, err := dev.ReadRange(got, 0); err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	if !bytes.Equal(got[:500], background[:500]) {
		t.Error("bytes before the written range were modified")
	}
	if !bytes.Equal(got[500:1100], p) {
		t.Error("written range does not hold the new data")
	}
	if !bytes.Equal(got[1100:], background[1100:]) {
		t.Error("bytes after the written range were modified")
	}
}

// TestWriteAlignedLeadSector tests that the lead sector goes through a
// read-modify-write cycle even when the request covers it entirely.
func TestWriteAlignedLeadSector(t *testing.T) {
	dev, simCard := newTestDevice(t, 64, sim.Config{})

	p := make([]byte, 2*sdcard.SectorSize)
	pattern(p, 5)
	if _, err := dev.WriteRange(p, 0); err != nil {
		t.Fatalf("WriteRange() error = %v", err)
	}
	if got := simCard.DataReads(); got != 1 {
		t.Errorf("sector reads = %d, want 1 (lead read-modify-write)", got)
	}
	if got := simCard.DataWrites(); got != 2 {
		t.Errorf("sector writes = %d, want 2", got)
	}
}

func TestReadDecomposition(t *testing.T) {
	dev, simCard := newTestDevice(t, 64, sim.Config{})

	p := make([]byte, 600)
	if _, err := dev.ReadRange(p, 500); err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	if got := simCard.DataReads(); got != 3 {
		t.Errorf("sector reads = %d, want 3", got)
	}
	if got := simCard.DataWrites(); got != 0 {
		t.Errorf("sector writes = %d, want 0", got)
	}
}

func TestZeroLengthRequests(t *testing.T) {
	dev, simCard := newTestDevice(t, 64, sim.Config{})

	if n, err := dev.ReadRange(nil, 100); n != 0 || err != nil {
		t.Errorf("ReadRange(nil) = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := dev.WriteRange(nil, 100); n != 0 || err != nil {
		t.Errorf("WriteRange(nil) = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := dev.EraseRange(100, 0); n != 0 || err != nil {
		t.Errorf("EraseRange(100, 0) = (%d, %v), want (0, nil)", n, err)
	}
	if simCard.DataReads() != 0 || simCard.DataWrites() != 0 {
		t.Error("zero-length requests caused data transactions")
	}
}

func TestEraseRange(t *testing.T) {
	dev, simCard := newTestDevice(t, 64, sim.Config{})

	background := make([]byte, 3*sdcard.SectorSize)
	pattern(background, 11)
	if _, err := dev.WriteRange(background, 0); err != nil {
		t.Fatalf("WriteRange() error = %v", err)
	}

	reads, writes := simCard.DataReads(), simCard.DataWrites()
	n, err := dev.EraseRange(500, 600)
	if err != nil {
		t.Fatalf("EraseRange() error = %v", err)
	}
	if n != 600 {
		t.Errorf("EraseRange() = %d, want 600", n)
	}
	// Same decomposition as the equivalent write.
	if got := simCard.DataReads() - reads; got != 2 {
		t.Errorf("sector reads = %d, want 2", got)
	}
	if got := simCard.DataWrites() - writes; got != 3 {
		t.Errorf("sector writes = %d, want 3", got)
	}

	got := make([]byte, len(background))
	if _, err := dev.ReadRange(got, 0); err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	if !bytes.Equal(got[:500], background[:500]) {
		t.Error("bytes before the erased range were modified")
	}
	for i, b := range got[500:1100] {
		if b != 0xFF {
			t.Fatalf("erased byte %d = %#02x, want 0xff", 500+i, b)
		}
	}
	if !bytes.Equal(got[1100:], background[1100:]) {
		t.Error("bytes after the erased range were modified")
	}
}

// ===== Validation Tests =====

func TestRangeValidation(t *testing.T) {
	const sectors = 64
	const capacity = sectors * sdcard.SectorSize
	dev, simCard := newTestDevice(t, sectors, sim.Config{})

	tests := []struct {
		name   string
		off    int64
		length int64 // EraseRange argument
		bufLen int   // ReadRange/WriteRange buffer, -1 to skip
	}{
		{"negative offset", -1, 10, 10},
		{"negative length", 0, -1, -1},
		{"beyond capacity", capacity, 1, 1},
		{"crosses capacity", capacity - 10, 11, 11},
		{"offset overflow", math.MaxInt64, 16, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := dev.EraseRange(tt.off, tt.length); !errors.Is(err, pkg.ErrOutOfBounds) {
				t.Errorf("EraseRange() error = %v, want %v", err, pkg.ErrOutOfBounds)
			}
			if tt.bufLen < 0 {
				// A slice cannot carry a negative length.
				return
			}
			buf := make([]byte, tt.bufLen)
			if _, err := dev.ReadRange(buf, tt.off); !errors.Is(err, pkg.ErrOutOfBounds) {
				t.Errorf("ReadRange() error = %v, want %v", err, pkg.ErrOutOfBounds)
			}
			if _, err := dev.WriteRange(buf, tt.off); !errors.Is(err, pkg.ErrOutOfBounds) {
				t.Errorf("WriteRange() error = %v, want %v", err, pkg.ErrOutOfBounds)
			}
		})
	}
	if simCard.DataReads() != 0 || simCard.DataWrites() != 0 {
		t.Error("rejected ranges caused data transactions")
	}

	// The very last bytes of the device are addressable.
	tail := make([]byte, 10)
	if _, err := dev.WriteRange(tail, capacity-10); err != nil {
		t.Errorf("WriteRange() at capacity end error = %v", err)
	}
}

func TestMaxTransfer(t *testing.T) {
	dev, simCard := newTestDevice(t, 64, sim.Config{})
	dev.SetMaxTransfer(sdcard.SectorSize)

	big := make([]byte, sdcard.SectorSize+1)
	if _, err := dev.ReadRange(big, 0); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("ReadRange() error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
	if _, err := dev.WriteRange(big, 0); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("WriteRange() error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
	if simCard.DataReads() != 0 || simCard.DataWrites() != 0 {
		t.Error("capped requests caused data transactions")
	}

	// At the cap is fine, and erase is not subject to it.
	if _, err := dev.ReadRange(big[:sdcard.SectorSize], 0); err != nil {
		t.Errorf("ReadRange() at cap error = %v", err)
	}
	if _, err := dev.EraseRange(0, 4*sdcard.SectorSize); err != nil {
		t.Errorf("EraseRange() error = %v", err)
	}

	// Removing the cap restores large transfers.
	dev.SetMaxTransfer(0)
	if _, err := dev.ReadRange(big, 0); err != nil {
		t.Errorf("ReadRange() after cap removal error = %v", err)
	}
}

func TestDeviceRequiresReadyCard(t *testing.T) {
	simCard, err := sim.NewCard(sim.NewMemMedia(64), sim.Config{})
	if err != nil {
		t.Fatalf("sim.NewCard() error = %v", err)
	}
	card := sdcard.New(simCard, testCardConfig)
	dev := NewDevice(card)

	if got := dev.State(); got != NotReady {
		t.Errorf("State() = %s, want %s", got, NotReady)
	}
	buf := make([]byte, 16)
	if _, err := dev.ReadRange(buf, 0); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("ReadRange() error = %v, want %v", err, pkg.ErrInvalidState)
	}
	if _, err := dev.WriteRange(buf, 0); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("WriteRange() error = %v, want %v", err, pkg.ErrInvalidState)
	}
	if _, err := dev.EraseRange(0, 16); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("EraseRange() error = %v, want %v", err, pkg.ErrInvalidState)
	}
	if _, err := dev.Size(); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("Size() error = %v, want %v", err, pkg.ErrInvalidState)
	}

	if err := card.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if got := dev.State(); got != Ready {
		t.Errorf("State() = %s, want %s", got, Ready)
	}
}

// ===== Failure Tests =====

// TestPartialWriteFailure tests that a write failing partway reports the
// bytes already on the medium and rolls nothing back.
func TestPartialWriteFailure(t *testing.T) {
	dev, _ := newTestDevice(t, 64, sim.Config{WriteBudget: 2})

	p := make([]byte, 3*sdcard.SectorSize)
	pattern(p, 23)
	n, err := dev.WriteRange(p, 0)
	if !errors.Is(err, pkg.ErrReject) {
		t.Fatalf("WriteRange() error = %v, want %v", err, pkg.ErrReject)
	}
	if n != 2*sdcard.SectorSize {
		t.Errorf("WriteRange() = %d, want %d", n, 2*sdcard.SectorSize)
	}

	// The sectors written before the failure hold the new data.
	got := make([]byte, 2*sdcard.SectorSize)
	if _, err := dev.ReadRange(got, 0); err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	if !bytes.Equal(got, p[:len(got)]) {
		t.Error("completed sectors do not hold the written data")
	}
}

// ===== Capacity Tests =====

func TestSize(t *testing.T) {
	dev, _ := newTestDevice(t, 64, sim.Config{})

	size, err := dev.Size()
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if want := int64(64 * sdcard.SectorSize); size != want {
		t.Errorf("Size() = %d, want %d", size, want)
	}
}

func TestStateString(t *testing.T) {
	if got := Ready.String(); got != "ready" {
		t.Errorf("Ready.String() = %q, want %q", got, "ready")
	}
	if got := NotReady.String(); got != "not-ready" {
		t.Errorf("NotReady.String() = %q, want %q", got, "not-ready")
	}
}
