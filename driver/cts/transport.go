package cts

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

// Transport accesses controller registers.
type Transport interface {
	ReadReg(addr uint32) (byte, error)
	WriteReg(addr uint32, v byte) error
	ReadBlock(addr uint32, b []byte) error
	WriteBlock(addr uint32, b []byte) error
}

// DefaultAddr is the 7-bit I²C address of the controller.
const DefaultAddr = 0x48

// I2C is a Transport over an I²C bus with 16-bit big endian register
// addresses.
type I2C struct {
	dev i2c.Dev
	// MaxTransfer bounds the payload of a single bus transaction.
	MaxTransfer int
	scratch     [2 + 256]byte
}

func NewI2C(bus i2c.Bus, addr uint16) *I2C {
	return &I2C{
		dev:         i2c.Dev{Bus: bus, Addr: addr},
		MaxTransfer: 256,
	}
}

func (t *I2C) chunk() int {
	return min(max(t.MaxTransfer, 1), len(t.scratch)-2)
}

func (t *I2C) ReadReg(addr uint32) (byte, error) {
	var v [1]byte
	err := t.ReadBlock(addr, v[:])
	return v[0], err
}

func (t *I2C) WriteReg(addr uint32, v byte) error {
	return t.WriteBlock(addr, []byte{v})
}

func (t *I2C) ReadBlock(addr uint32, b []byte) error {
	for len(b) > 0 {
		if addr > 0xffff {
			return fmt.Errorf("cts: register %#x out of range", addr)
		}
		n := min(len(b), t.chunk())
		w := t.scratch[:2]
		w[0], w[1] = byte(addr>>8), byte(addr)
		if err := t.dev.Tx(w, b[:n]); err != nil {
			return fmt.Errorf("cts: read %#04x: %w", addr, err)
		}
		addr += uint32(n)
		b = b[n:]
	}
	return nil
}

func (t *I2C) WriteBlock(addr uint32, b []byte) error {
	for len(b) > 0 {
		if addr > 0xffff {
			return fmt.Errorf("cts: register %#x out of range", addr)
		}
		n := min(len(b), t.chunk())
		w := t.scratch[:2+n]
		w[0], w[1] = byte(addr>>8), byte(addr)
		copy(w[2:], b[:n])
		if err := t.dev.Tx(w, nil); err != nil {
			return fmt.Errorf("cts: write %#04x: %w", addr, err)
		}
		addr += uint32(n)
		b = b[n:]
	}
	return nil
}
