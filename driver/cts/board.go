package cts

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Platform is the host side of a controller: its reset and interrupt
// lines, and the driver state that must be quiesced during tests.
type Platform interface {
	// Stop suspends normal touch reporting.
	Stop() error
	// Start resumes normal touch reporting.
	Start() error
	// Reset pulses the reset line.
	Reset() error
	Lock()
	Unlock()
	// Reachable reports whether the controller responds on its bus.
	Reachable() bool
	SetResetLine(l gpio.Level) error
	IntPin() gpio.Level
}

var ErrStopped = errors.New("cts: device stopped")

// Board is a Platform for a controller wired to host GPIOs.
type Board struct {
	dev *Device
	rst gpio.PinOut
	irq gpio.PinIn

	// Sleep waits for line transitions. It defaults to time.Sleep.
	Sleep func(time.Duration)

	mu      sync.Mutex
	stopped bool
}

func NewBoard(dev *Device, rst gpio.PinOut, irq gpio.PinIn) (*Board, error) {
	if err := rst.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("cts: reset pin: %w", err)
	}
	if err := irq.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("cts: interrupt pin: %w", err)
	}
	return &Board{
		dev:   dev,
		rst:   rst,
		irq:   irq,
		Sleep: time.Sleep,
	}, nil
}

func (b *Board) Stop() error {
	if b.stopped {
		return ErrStopped
	}
	if err := b.irq.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("cts: stop: %w", err)
	}
	b.stopped = true
	return nil
}

func (b *Board) Start() error {
	if err := b.irq.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("cts: start: %w", err)
	}
	b.stopped = false
	return nil
}

func (b *Board) Reset() error {
	if err := b.rst.Out(gpio.Low); err != nil {
		return fmt.Errorf("cts: reset: %w", err)
	}
	b.Sleep(10 * time.Millisecond)
	if err := b.rst.Out(gpio.High); err != nil {
		return fmt.Errorf("cts: reset: %w", err)
	}
	b.Sleep(50 * time.Millisecond)
	b.dev.SetTesting(false)
	return nil
}

func (b *Board) Lock() {
	b.mu.Lock()
}

func (b *Board) Unlock() {
	b.mu.Unlock()
}

func (b *Board) Reachable() bool {
	id, err := b.dev.ReadChipID()
	return err == nil && id == ChipID
}

func (b *Board) SetResetLine(l gpio.Level) error {
	if err := b.rst.Out(l); err != nil {
		return fmt.Errorf("cts: reset line: %w", err)
	}
	return nil
}

func (b *Board) IntPin() gpio.Level {
	return b.irq.Read()
}
