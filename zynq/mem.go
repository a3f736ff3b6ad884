package zynq

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

const MEM_FILE = "/dev/mem"

// Memory reads and writes 32-bit registers at physical addresses. Every call
// goes straight to the hardware; nothing is cached or batched.
type Memory interface {
	Read32(addr uintptr) (uint32, error)
	Write32(addr uintptr, val uint32) error
}

// AccessError is returned when a register couldn't be read or written.
type AccessError struct {
	Op   string // "open", "map", "read" or "write"
	Addr uintptr
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("couldn't %s %08X: %v", e.Op, e.Addr, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

var (
	errUnaligned = errors.New("address not 32-bit aligned")
	errClosed    = errors.New("memory closed")
)

// DevMem accesses physical memory through /dev/mem. Pages are mapped on first
// use and stay mapped until Close.
type DevMem struct {
	path     string
	f        *os.File
	pageSize uintptr
	pages    map[uintptr]mmap.MMap
	closed   bool
}

// NewDevMem returns a DevMem reading and writing through the given device,
// normally MEM_FILE. The device is opened lazily, so a missing device or
// missing permission shows up as an AccessError on the first access.
func NewDevMem(path string) *DevMem {
	return &DevMem{
		path:     path,
		pageSize: uintptr(unix.Getpagesize()),
		pages:    make(map[uintptr]mmap.MMap),
	}
}

func (m *DevMem) open(addr uintptr) error {
	if m.f != nil {
		return nil
	}
	f, err := os.OpenFile(m.path, os.O_RDWR|unix.O_SYNC, os.ModePerm)
	if err != nil {
		return &AccessError{"open", addr, err}
	}
	m.f = f
	return nil
}

// reg returns a pointer to the mapped register at physAddr. Since a mapping
// has to start at a page boundary, the page containing physAddr is mapped and
// the pointer is offset into it.
func (m *DevMem) reg(op string, physAddr uintptr) (*uint32, error) {
	if m.closed {
		return nil, &AccessError{op, physAddr, errClosed}
	}
	if physAddr&3 != 0 {
		return nil, &AccessError{op, physAddr, errUnaligned}
	}
	pagemask := ^(m.pageSize - 1)
	mapAddr := physAddr & pagemask
	mm, ok := m.pages[mapAddr]
	if !ok {
		err := m.open(physAddr)
		if err != nil {
			return nil, err
		}
		log.Printf("MapRegion(%s, %d, RDWR, 0, %08X), physAddr %08X\n", m.path, m.pageSize, mapAddr, physAddr)
		mm, err = mmap.MapRegion(m.f, int(m.pageSize), mmap.RDWR, 0, int64(mapAddr))
		if err != nil {
			return nil, &AccessError{"map", physAddr, err}
		}
		m.pages[mapAddr] = mm
	}
	return (*uint32)(unsafe.Pointer(&mm[physAddr-mapAddr])), nil
}

func (m *DevMem) Read32(addr uintptr) (uint32, error) {
	r, err := m.reg("read", addr)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(r), nil
}

func (m *DevMem) Write32(addr uintptr, val uint32) error {
	r, err := m.reg("write", addr)
	if err != nil {
		return err
	}
	atomic.StoreUint32(r, val)
	return nil
}

// Close unmaps all pages and closes the device. It returns the first error
// encountered but always tries to release everything.
func (m *DevMem) Close() error {
	var err error
	for a, mm := range m.pages {
		te := mm.Unmap()
		if err == nil && te != nil {
			err = fmt.Errorf("couldn't unmap %08X: %v", a, te)
		}
		delete(m.pages, a)
	}
	if m.f != nil {
		te := m.f.Close()
		if err == nil {
			err = te
		}
		m.f = nil
	}
	m.closed = true
	return err
}
