// Package installer pushes a compiled table onto one switch session.
package installer

import (
	"context"
	"fmt"

	"flow-policy-controller/internal/model"
)

// Session is the outbound half of a switch connection. PushEntry is the only
// mutation performed against a switch; there is no read-back.
type Session interface {
	PushEntry(ctx context.Context, entry model.CompiledEntry) error
}

// SessionFunc adapts a function to Session.
type SessionFunc func(ctx context.Context, entry model.CompiledEntry) error

func (f SessionFunc) PushEntry(ctx context.Context, entry model.CompiledEntry) error {
	return f(ctx, entry)
}

// Install pushes entries in the order given and blocks until the last one is
// accepted. Entries must be in strictly descending priority.
//
// A push error or a cancelled ctx stops the sequence. Entries already pushed stay on
// the switch; the next connect reinstalls the whole table.
func Install(ctx context.Context, sw model.SwitchID, role model.Role, session Session, entries []model.CompiledEntry) error {
	for i := 1; i < len(entries); i++ {
		if entries[i].Priority >= entries[i-1].Priority {
			return fmt.Errorf("switch %q: entry %d (%s) is not below entry %d (%s) in priority", sw, i, entries[i].RuleID, i-1, entries[i-1].RuleID)
		}
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return &model.InstallationFailedError{Role: role, Switch: sw, FailedIndex: i, Err: err}
		}
		if err := session.PushEntry(ctx, entry); err != nil {
			return &model.InstallationFailedError{Role: role, Switch: sw, FailedIndex: i, Err: err}
		}
	}
	return nil
}
