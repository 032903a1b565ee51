package sim

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// SectorSize is the fixed sector size served by simulated media, matching
// the block length the driver locks during initialization.
const SectorSize = 512

// Media is the backing store a simulated card serves sectors from.
// Implementations must tolerate concurrent readers; the simulator itself
// issues at most one access at a time.
type Media interface {
	// Sectors returns the total sector count.
	Sectors() int64

	// ReadSector copies sector idx into buf, which holds one full sector.
	ReadSector(idx int64, buf []byte) error

	// WriteSector stores one full sector from buf as sector idx.
	WriteSector(idx int64, buf []byte) error
}

// MemMedia is volatile in-memory media.
type MemMedia struct {
	data  []byte
	mutex sync.RWMutex
}

// NewMemMedia creates zero-filled in-memory media with the given sector
// count.
func NewMemMedia(sectors int64) *MemMedia {
	return &MemMedia{data: make([]byte, sectors*SectorSize)}
}

// Sectors returns the sector count.
func (m *MemMedia) Sectors() int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return int64(len(m.data)) / SectorSize
}

// ReadSector copies one sector out of memory.
func (m *MemMedia) ReadSector(idx int64, buf []byte) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if err := m.check(idx, len(buf)); err != nil {
		return err
	}
	copy(buf, m.data[idx*SectorSize:])
	return nil
}

// WriteSector copies one sector into memory.
func (m *MemMedia) WriteSector(idx int64, buf []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.check(idx, len(buf)); err != nil {
		return err
	}
	copy(m.data[idx*SectorSize:], buf[:SectorSize])
	return nil
}

func (m *MemMedia) check(idx int64, bufLen int) error {
	if idx < 0 || idx*SectorSize >= int64(len(m.data)) {
		return fmt.Errorf("sector %d of %d: %w",
			idx, int64(len(m.data))/SectorSize, io.EOF)
	}
	if bufLen < SectorSize {
		return io.ErrShortBuffer
	}
	return nil
}

// FileMedia is media persisted in a file on any [afero.Fs], so tests run
// it over [afero.NewMemMapFs] and the daemon over the real filesystem.
type FileMedia struct {
	file    afero.File
	sectors int64
	mutex   sync.RWMutex
}

// OpenFileMedia opens (creating if needed) an image file as media. A
// positive sectors grows or truncates the image to exactly that size;
// zero derives the sector count from the existing file, which must be a
// non-empty multiple of the sector size.
func OpenFileMedia(fs afero.Fs, path string, sectors int64) (*FileMedia, error) {
	file, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	if sectors > 0 {
		if err := file.Truncate(sectors * SectorSize); err != nil {
			file.Close()
			return nil, fmt.Errorf("size image: %w", err)
		}
	} else {
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("stat image: %w", err)
		}
		if info.Size() == 0 || info.Size()%SectorSize != 0 {
			file.Close()
			return nil, fmt.Errorf("image size %d is not a sector multiple", info.Size())
		}
		sectors = info.Size() / SectorSize
	}
	return &FileMedia{file: file, sectors: sectors}, nil
}

// Sectors returns the sector count fixed at open.
func (f *FileMedia) Sectors() int64 {
	return f.sectors
}

// ReadSector reads one sector from the image.
func (f *FileMedia) ReadSector(idx int64, buf []byte) error {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	if err := f.check(idx, len(buf)); err != nil {
		return err
	}
	n, err := f.file.ReadAt(buf[:SectorSize], idx*SectorSize)
	if err != nil && !(err == io.EOF && n == SectorSize) {
		return fmt.Errorf("read sector %d: %w", idx, err)
	}
	return nil
}

// WriteSector writes one sector to the image.
func (f *FileMedia) WriteSector(idx int64, buf []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.check(idx, len(buf)); err != nil {
		return err
	}
	if _, err := f.file.WriteAt(buf[:SectorSize], idx*SectorSize); err != nil {
		return fmt.Errorf("write sector %d: %w", idx, err)
	}
	return nil
}

func (f *FileMedia) check(idx int64, bufLen int) error {
	if idx < 0 || idx >= f.sectors {
		return fmt.Errorf("sector %d of %d: %w", idx, f.sectors, io.EOF)
	}
	if bufLen < SectorSize {
		return io.ErrShortBuffer
	}
	return nil
}

// Sync flushes buffered writes to the underlying filesystem.
func (f *FileMedia) Sync() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.file.Sync()
}

// Close closes the image file.
func (f *FileMedia) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
