// Package shader wraps compiled GPU programs so they can be replaced at run
// time. A failed replacement never takes the running program down.
package shader

import (
	"fmt"

	"go.uber.org/zap"

	"deferred-renderer/gpu"
	"deferred-renderer/internal/logger"
)

// Program is a reloadable GPU program. Draws always use the last program that
// compiled and linked.
type Program struct {
	dev   gpu.Device
	guard gpu.ThreadGuard

	src     gpu.ProgramSource
	current gpu.Program
	reloads int
}

// New compiles src. Failure here is fatal to the caller: there is no earlier
// program to fall back to.
func New(dev gpu.Device, src gpu.ProgramSource) (*Program, error) {
	p, err := dev.CreateProgram(src)
	if err != nil {
		return nil, fmt.Errorf("shader %q: %w", src.Name, err)
	}
	return &Program{dev: dev, guard: gpu.NewThreadGuard(), src: src, current: p}, nil
}

// Reload compiles src and swaps it in. When compilation or linking fails the
// previous program stays active and the error is returned.
func (p *Program) Reload(src gpu.ProgramSource) error {
	if err := p.guard.Check(); err != nil {
		return fmt.Errorf("shader %q reload: %w", p.src.Name, err)
	}
	next, err := p.dev.CreateProgram(src)
	if err != nil {
		logger.L().Warn("shader reload failed, keeping previous program",
			zap.String("shader", src.Name), zap.Error(err))
		return fmt.Errorf("shader %q reload: %w", src.Name, err)
	}
	p.current.Release()
	p.current = next
	p.src = src
	p.reloads++
	logger.L().Info("shader reloaded", zap.String("shader", src.Name))
	return nil
}

// GPU returns the active program.
func (p *Program) GPU() gpu.Program { return p.current }

func (p *Program) Source() gpu.ProgramSource { return p.src }

func (p *Program) Name() string { return p.src.Name }

// Reloads counts successful reloads.
func (p *Program) Reloads() int { return p.reloads }

func (p *Program) Set(name string, value any) error {
	if err := p.current.Set(name, value); err != nil {
		return fmt.Errorf("shader %q: %w", p.src.Name, err)
	}
	return nil
}

func (p *Program) BindBlock(name string, buf gpu.UniformBuffer, index int) error {
	if err := p.current.BindBlock(name, buf, index); err != nil {
		return fmt.Errorf("shader %q: %w", p.src.Name, err)
	}
	return nil
}

func (p *Program) Close() {
	if p.current != nil {
		p.current.Release()
		p.current = nil
	}
}
