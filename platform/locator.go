package platform

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrLocatorFrozen is returned by Bind after the locator has been frozen.
var ErrLocatorFrozen = errors.New("locator is frozen")

// Locator resolves capability tokens to implementations.
//
// Bindings are added during start-up with Bind. Freeze (or the first
// Resolve) makes the locator read-only; after that it is safe to share
// between goroutines.
type Locator struct {
	registry *Registry
	bindings map[Capability]any
	frozen   atomic.Bool
}

// NewLocator creates a locator over the given registry.
func NewLocator(registry *Registry) *Locator {
	return &Locator{
		registry: registry,
		bindings: make(map[Capability]any),
	}
}

// Bind associates an implementation with a capability token.
func (l *Locator) Bind(token Capability, impl any) error {
	if l.frozen.Load() {
		return fmt.Errorf("binding %q: %w", token, ErrLocatorFrozen)
	}
	if impl == nil {
		return fmt.Errorf("binding %q: nil implementation", token)
	}
	if _, exists := l.bindings[token]; exists {
		return fmt.Errorf("capability %q already bound", token)
	}
	l.bindings[token] = impl
	return nil
}

// BindPlatform binds the same three implementations to every token of a platform row.
// Any nil implementation is skipped.
func (l *Locator) BindPlatform(p Platform, business, review, analytics any) error {
	row, err := l.registry.Lookup(p)
	if err != nil {
		return err
	}
	for _, b := range []struct {
		token Capability
		impl  any
	}{
		{row.Business, business},
		{row.Review, review},
		{row.Analytics, analytics},
	} {
		if b.impl == nil {
			continue
		}
		if err := l.Bind(b.token, b.impl); err != nil {
			return err
		}
	}
	return nil
}

// Freeze makes the locator read-only.
func (l *Locator) Freeze() {
	l.frozen.Store(true)
}

// Registry returns the underlying registry.
func (l *Locator) Registry() *Registry {
	return l.registry
}

// Resolve returns the implementation bound for the platform's capability kind.
func (l *Locator) Resolve(p Platform, kind Kind) (any, error) {
	l.frozen.Store(true)

	row, err := l.registry.Lookup(p)
	if err != nil {
		return nil, err
	}
	token, ok := row.Token(kind)
	if !ok {
		return nil, fmt.Errorf("%w: platform %q has no %s capability", ErrCapabilityNotRegistered, p, kind)
	}
	impl, ok := l.bindings[token]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCapabilityNotRegistered, token)
	}
	return impl, nil
}

// Resolve returns the implementation bound for the platform's capability kind,
// asserted to type T.
func Resolve[T any](l *Locator, p Platform, kind Kind) (T, error) {
	var zero T
	impl, err := l.Resolve(p, kind)
	if err != nil {
		return zero, err
	}
	typed, ok := impl.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s capability for %q has type %T", ErrCapabilityNotRegistered, kind, p, impl)
	}
	return typed, nil
}
