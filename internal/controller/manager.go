// Package controller reacts to switch lifecycle and table-miss events. It owns no
// per-switch state: every connect resolves, compiles and installs from scratch.
package controller

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"flow-policy-controller/internal/engine"
	"flow-policy-controller/internal/installer"
	"flow-policy-controller/internal/model"
)

type RoleResolver interface {
	ResolveRole(id model.SwitchID) (model.Role, error)
	Roles() []model.Role
}

type TableCompiler interface {
	Compile(role model.Role) ([]model.CompiledEntry, error)
}

// Observer receives diagnostic events. Implementations must be safe for concurrent
// use; the manager calls them from every session goroutine.
type Observer interface {
	SwitchInstalled(sw model.SwitchID, role model.Role, entries int, elapsed time.Duration)
	InstallFailed(sw model.SwitchID, role model.Role, err error)
	UnknownSwitch(sw model.SwitchID)
	// UnhandledPacket carries the entry the compiled table expects to hit, if any.
	// role is the zero Role when sw has no binding.
	UnhandledPacket(sw model.SwitchID, role model.Role, pkt model.PacketDescriptor, expected model.CompiledEntry, found bool)
	MalformedPacket(sw model.SwitchID, pkt model.PacketDescriptor)
	Disconnected(sw model.SwitchID)
}

type Manager struct {
	roles    RoleResolver
	compiler TableCompiler
	observer Observer
}

func NewManager(roles RoleResolver, compiler TableCompiler, observer Observer) *Manager {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Manager{roles: roles, compiler: compiler, observer: observer}
}

// Precompile compiles every declared role concurrently and returns the tables. Any
// configuration error is returned before a single event is processed.
func (m *Manager) Precompile(ctx context.Context) (map[model.Role][]model.CompiledEntry, error) {
	roles := m.roles.Roles()
	tables := make([][]model.CompiledEntry, len(roles))

	g, _ := errgroup.WithContext(ctx)
	for i, role := range roles {
		g.Go(func() error {
			entries, err := m.compiler.Compile(role)
			if err != nil {
				return err
			}
			tables[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[model.Role][]model.CompiledEntry, len(roles))
	for i, role := range roles {
		out[role] = tables[i]
	}
	return out, nil
}

// OnConnect resolves the switch's role, compiles its table and installs it on the
// session. Unknown switches get nothing pushed. ctx should be cancelled when the
// session closes.
func (m *Manager) OnConnect(ctx context.Context, sw model.SwitchID, session installer.Session) error {
	role, err := m.roles.ResolveRole(sw)
	if err != nil {
		m.observer.UnknownSwitch(sw)
		return err
	}

	entries, err := m.compiler.Compile(role)
	if err != nil {
		m.observer.InstallFailed(sw, role, err)
		return err
	}

	start := time.Now()
	if err := installer.Install(ctx, sw, role, session, entries); err != nil {
		m.observer.InstallFailed(sw, role, err)
		return err
	}
	m.observer.SwitchInstalled(sw, role, len(entries), time.Since(start))
	return nil
}

func (m *Manager) OnDisconnect(sw model.SwitchID) {
	m.observer.Disconnected(sw)
}

// OnUnhandledPacket reports a table miss. It never changes any table.
func (m *Manager) OnUnhandledPacket(sw model.SwitchID, pkt model.PacketDescriptor) {
	if !pkt.Complete() {
		m.observer.MalformedPacket(sw, pkt)
		return
	}
	role, err := m.roles.ResolveRole(sw)
	if err != nil {
		// No table to compare against; the descriptor is still reported.
		m.observer.UnknownSwitch(sw)
		m.observer.UnhandledPacket(sw, model.Role{}, pkt, model.CompiledEntry{}, false)
		return
	}

	var expected model.CompiledEntry
	found := false
	if entries, err := m.compiler.Compile(role); err == nil {
		expected, found = engine.NewEvaluator(entries).Match(pkt)
	}
	m.observer.UnhandledPacket(sw, role, pkt, expected, found)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) SwitchInstalled(model.SwitchID, model.Role, int, time.Duration) {}

func (NopObserver) InstallFailed(model.SwitchID, model.Role, error) {}

func (NopObserver) UnknownSwitch(model.SwitchID) {}

func (NopObserver) UnhandledPacket(model.SwitchID, model.Role, model.PacketDescriptor, model.CompiledEntry, bool) {
}

func (NopObserver) MalformedPacket(model.SwitchID, model.PacketDescriptor) {}

func (NopObserver) Disconnected(model.SwitchID) {}
