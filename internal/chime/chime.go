// Package chime plays the short audible cue that accompanies a reminder.
//
// Output hardware is optional: when a GPIO buzzer is configured but cannot be
// opened (wrong platform, missing permissions) the player falls back to doing
// nothing, and the reminder still goes out through the other channels.
package chime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	appLog "evremind/internal/log"
)

const DefaultDuration = 150 * time.Millisecond

// Device produces a single cue of roughly the given duration.
type Device interface {
	Ring(ctx context.Context, d time.Duration) error
}

// Opener returns the device to use. It is called at most once per Player.
type Opener func() (Device, error)

// Player owns the lazily opened output device. A failed open is cached so
// that later reminders do not retry the hardware on every firing.
type Player struct {
	open     Opener
	duration time.Duration

	once    sync.Once
	dev     Device
	openErr error
}

func NewPlayer(open Opener, d time.Duration) *Player {
	if d <= 0 {
		d = DefaultDuration
	}
	return &Player{open: open, duration: d}
}

// Play rings the device once. Errors are returned for callers that care, but
// a missing device is never fatal to a reminder.
func (p *Player) Play(ctx context.Context) error {
	if p == nil || p.open == nil {
		return nil
	}
	p.once.Do(func() {
		p.dev, p.openErr = p.open()
		if p.openErr != nil {
			appLog.Warn("chime device unavailable; audio disabled", "error", p.openErr.Error())
		}
	})
	if p.openErr != nil {
		return p.openErr
	}
	if p.dev == nil {
		return nil
	}
	return p.dev.Ring(ctx, p.duration)
}

// New builds a Player for the configured driver name: "gpio", "bell" or
// "none". Unknown names behave like "none".
func New(driver, pin string, d time.Duration) *Player {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "gpio":
		return NewPlayer(func() (Device, error) { return OpenGPIO(pin) }, d)
	case "bell":
		return NewPlayer(func() (Device, error) { return NewBell(os.Stdout), nil }, d)
	default:
		return NewPlayer(nil, d)
	}
}

// bell writes the terminal BEL character.
type bell struct {
	mu sync.Mutex
	w  io.Writer
}

func NewBell(w io.Writer) Device { return &bell{w: w} }

func (b *bell) Ring(_ context.Context, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := io.WriteString(b.w, "\a")
	return err
}

// gpioBuzzer drives an active buzzer wired to a GPIO output pin.
type gpioBuzzer struct {
	mu  sync.Mutex
	pin gpio.PinOut
}

// OpenGPIO initialises periph.io and resolves the named pin (e.g. "GPIO18").
func OpenGPIO(name string) (Device, error) {
	if runtime.GOOS != "linux" {
		return nil, errors.New("chime: gpio unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("chime: periph host init failed: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("chime: gpio pin %q not found", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("chime: gpio pin %q out: %w", name, err)
	}
	return &gpioBuzzer{pin: p}, nil
}

func (g *gpioBuzzer) Ring(ctx context.Context, d time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.pin.Out(gpio.High); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return g.pin.Out(gpio.Low)
}
