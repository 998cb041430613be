// Package diag turns controller events into structured log records and metrics.
package diag

import (
	"errors"
	"log/slog"
	"time"

	"flow-policy-controller/internal/model"
	"flow-policy-controller/pkg/wellknown"
)

// Recorder implements controller.Observer.
type Recorder struct {
	logger *slog.Logger
}

func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger}
}

func (r *Recorder) SwitchInstalled(sw model.SwitchID, role model.Role, entries int, elapsed time.Duration) {
	recordInstall("success", entries, elapsed)
	r.logger.Info("flow table installed",
		"switch", sw,
		"role", role.String(),
		"entries", entries,
		"elapsed", elapsed,
	)
}

func (r *Recorder) InstallFailed(sw model.SwitchID, role model.Role, err error) {
	recordInstall("failure", 0, 0)
	attrs := []any{"switch", sw, "role", role.String(), "error", err}
	var failed *model.InstallationFailedError
	if errors.As(err, &failed) {
		attrs = append(attrs, "failed_index", failed.FailedIndex)
	}
	r.logger.Error("flow table installation failed, waiting for reconnect", attrs...)
}

func (r *Recorder) UnknownSwitch(sw model.SwitchID) {
	recordUnknownSwitch()
	r.logger.Warn("switch has no role binding, nothing installed", "switch", sw)
}

func (r *Recorder) UnhandledPacket(sw model.SwitchID, role model.Role, pkt model.PacketDescriptor, expected model.CompiledEntry, found bool) {
	recordMiss("unhandled")
	attrs := []any{"switch", sw}
	if role.Kind != "" {
		attrs = append(attrs, "role", role.String())
	}
	attrs = append(attrs, packetAttrs(pkt)...)
	if found {
		attrs = append(attrs, "expected_rule", expected.RuleID, "expected_priority", expected.Priority)
	}
	r.logger.Warn("table miss", attrs...)
}

func (r *Recorder) MalformedPacket(sw model.SwitchID, pkt model.PacketDescriptor) {
	recordMiss("malformed")
	attrs := append([]any{"switch", sw}, packetAttrs(pkt)...)
	r.logger.Warn("dropping incomplete packet", attrs...)
}

func (r *Recorder) Disconnected(sw model.SwitchID) {
	r.logger.Info("switch disconnected", "switch", sw)
}

func packetAttrs(pkt model.PacketDescriptor) []any {
	traffic := model.EtherType(pkt.EtherType)
	if pkt.IPProtocol != 0 {
		traffic = model.IPProtocol(pkt.IPProtocol)
	}
	attrs := []any{"traffic", wellknown.TrafficName(traffic), "ether_type", pkt.EtherType, "ip_proto", pkt.IPProtocol}
	if pkt.Src.IsValid() {
		attrs = append(attrs, "src", pkt.Src.String())
	}
	if pkt.Dst.IsValid() {
		attrs = append(attrs, "dst", pkt.Dst.String())
	}
	return attrs
}
