package redisbus

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"flow-policy-controller/internal/model"
	"flow-policy-controller/internal/openflow"
)

// FlowTable is the hash table entries are written to, keyed FLOW_TABLE|<switch>|<priority>.
const FlowTable = "FLOW_TABLE"

func flowKey(sw model.SwitchID, priority uint16) string {
	return fmt.Sprintf("%s|%s|%d", FlowTable, sw, priority)
}

// Session publishes a switch's table to Redis for an external switch agent. It
// implements installer.Session.
type Session struct {
	client *redis.Client
	sw     model.SwitchID
}

func NewSession(client *redis.Client, sw model.SwitchID) *Session {
	return &Session{client: client, sw: sw}
}

func (s *Session) PushEntry(ctx context.Context, entry model.CompiledEntry) error {
	data, err := openflow.NewFlowMod(entry).MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode flow-mod for rule %s: %w", entry.RuleID, err)
	}
	fields := map[string]interface{}{
		"rule":     entry.RuleID,
		"match":    entry.Match.String(),
		"action":   string(entry.Action),
		"priority": strconv.Itoa(int(entry.Priority)),
		"cookie":   strconv.FormatUint(openflow.Cookie(entry.RuleID), 16),
		"flow_mod": hex.EncodeToString(data),
	}
	if err := s.client.HSet(ctx, flowKey(s.sw, entry.Priority), fields).Err(); err != nil {
		return fmt.Errorf("write %s: %w", flowKey(s.sw, entry.Priority), err)
	}
	return nil
}

// Clear deletes every entry previously written for the switch. A fresh connection
// starts from an empty table.
func (s *Session) Clear(ctx context.Context) error {
	pattern := fmt.Sprintf("%s|%s|*", FlowTable, s.sw)
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("pipeline exec: %w", err)
	}
	return nil
}

// Entries reads the switch's table back, keyed by priority.
func (s *Session) Entries(ctx context.Context) (map[uint16]map[string]string, error) {
	pattern := fmt.Sprintf("%s|%s|*", FlowTable, s.sw)
	out := make(map[uint16]map[string]string)
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		fields, err := s.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", iter.Val(), err)
		}
		prio, err := strconv.ParseUint(fields["priority"], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid priority %q", iter.Val(), fields["priority"])
		}
		out[uint16(prio)] = fields
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return out, nil
}
