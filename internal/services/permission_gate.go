package services

import (
	"sync"

	"github.com/securetrack/server/internal/observability"
)

// AccessLevel is a location capability the host can grant
type AccessLevel string

const (
	AccessPrecise AccessLevel = "precise"
	AccessCoarse  AccessLevel = "coarse"
)

var locationLevels = []AccessLevel{AccessPrecise, AccessCoarse}

// PermissionGate answers whether location access is currently granted
type PermissionGate interface {
	HasAccess() bool
	// Request asks the host for access. onResult may be invoked on another
	// goroutine, at any later time.
	Request(onResult func(granted bool))
	ShouldExplainRationale() bool
}

// AuthorizationProvider is the host's authorization system
type AuthorizationProvider interface {
	IsGranted(level AccessLevel) bool
	RequestAccess(levels []AccessLevel, onResult func(granted map[AccessLevel]bool))
	ShouldShowRationale(level AccessLevel) bool
}

// HostPermissionGate holds no state of its own: every call asks the provider
type HostPermissionGate struct {
	provider AuthorizationProvider
}

// NewHostPermissionGate creates a gate over the host's authorization provider
func NewHostPermissionGate(provider AuthorizationProvider) *HostPermissionGate {
	return &HostPermissionGate{provider: provider}
}

// HasAccess reports true if either precise or coarse access is granted
func (g *HostPermissionGate) HasAccess() bool {
	for _, level := range locationLevels {
		if g.provider.IsGranted(level) {
			return true
		}
	}
	return false
}

func (g *HostPermissionGate) Request(onResult func(granted bool)) {
	g.provider.RequestAccess(locationLevels, func(granted map[AccessLevel]bool) {
		if onResult != nil {
			onResult(granted[AccessPrecise] || granted[AccessCoarse])
		}
	})
}

func (g *HostPermissionGate) ShouldExplainRationale() bool {
	for _, level := range locationLevels {
		if g.provider.ShouldShowRationale(level) {
			return true
		}
	}
	return false
}

// StaticAuthorization is an AuthorizationProvider for headless hosts. Grants
// come from configuration and change only through Grant/Revoke.
type StaticAuthorization struct {
	mu        sync.Mutex
	granted   map[AccessLevel]bool
	denied    map[AccessLevel]bool
	autoGrant bool
	listeners []func()
}

// NewStaticAuthorization creates a provider with the given levels granted.
// With autoGrant set, RequestAccess grants whatever is asked for.
func NewStaticAuthorization(granted []AccessLevel, autoGrant bool) *StaticAuthorization {
	a := &StaticAuthorization{
		granted:   make(map[AccessLevel]bool),
		denied:    make(map[AccessLevel]bool),
		autoGrant: autoGrant,
	}
	for _, level := range granted {
		a.granted[level] = true
	}
	return a
}

func (a *StaticAuthorization) IsGranted(level AccessLevel) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.granted[level]
}

// RequestAccess resolves asynchronously, like a host prompt would
func (a *StaticAuthorization) RequestAccess(levels []AccessLevel, onResult func(granted map[AccessLevel]bool)) {
	a.mu.Lock()
	result := make(map[AccessLevel]bool, len(levels))
	for _, level := range levels {
		if a.autoGrant {
			a.granted[level] = true
			delete(a.denied, level)
		} else if !a.granted[level] {
			a.denied[level] = true
		}
		result[level] = a.granted[level]
	}
	a.mu.Unlock()

	go onResult(result)
}

// ShouldShowRationale is true once a request for the level has been refused
func (a *StaticAuthorization) ShouldShowRationale(level AccessLevel) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.denied[level]
}

// Grant grants a level
func (a *StaticAuthorization) Grant(level AccessLevel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.granted[level] = true
	delete(a.denied, level)
}

// Revoke withdraws a level. When no location level remains granted the
// revocation listeners fire.
func (a *StaticAuthorization) Revoke(level AccessLevel) {
	a.mu.Lock()
	had := a.anyGrantedLocked()
	delete(a.granted, level)
	lost := had && !a.anyGrantedLocked()
	listeners := append([]func(){}, a.listeners...)
	a.mu.Unlock()

	if lost {
		observability.WithField("level", level).Warn("Location access revoked")
		for _, fn := range listeners {
			fn()
		}
	}
}

// OnRevoked registers a callback for loss of all location access
func (a *StaticAuthorization) OnRevoked(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

func (a *StaticAuthorization) anyGrantedLocked() bool {
	for _, level := range locationLevels {
		if a.granted[level] {
			return true
		}
	}
	return false
}
