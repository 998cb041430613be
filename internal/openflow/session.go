package openflow

import (
	"context"
	"fmt"
	"io"
	"sync"

	"flow-policy-controller/internal/model"
)

// Session writes flow-mods to an established OpenFlow channel. It implements
// installer.Session.
type Session struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSession(w io.Writer) *Session {
	return &Session{w: w}
}

func (s *Session) PushEntry(ctx context.Context, entry model.CompiledEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := NewFlowMod(entry).MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode flow-mod for rule %s: %w", entry.RuleID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("send flow-mod for rule %s: %w", entry.RuleID, err)
	}
	return nil
}
