package meshnet

import "log/slog"

// EchoProtocol is a SessionProtocol that writes back whatever it receives,
// used by cmd/peer to exercise a full dial/listen/protocol round trip
// without requiring a second, domain-specific protocol package.
type EchoProtocol struct {
	logger *slog.Logger
}

// NewEchoProtocol builds an EchoProtocol handler factory suitable for
// ProtocolMeta.SessionHandler.
func NewEchoProtocol(logger *slog.Logger) func() SessionProtocol {
	return func() SessionProtocol {
		return &EchoProtocol{logger: logger.With(slog.String("protocol", "echo"))}
	}
}

func (p *EchoProtocol) Connected(ctx *ProtocolContextRef, version string) {
	p.logger.Info("echo connected", slog.Any("session", ctx.Session.ID), slog.String("version", version))
}

func (p *EchoProtocol) Disconnected(ctx *ProtocolContextRef) {
	p.logger.Info("echo disconnected", slog.Any("session", ctx.Session.ID))
}

func (p *EchoProtocol) Received(ctx *ProtocolContextRef, data []byte) {
	p.logger.Debug("echo received", slog.Any("session", ctx.Session.ID), slog.Int("bytes", len(data)))
	ctx.Service.Control.SendMessage(
		TargetSession{Single: &ctx.Session.ID},
		ctx.ProtocolID,
		data,
		Normal,
	)
}

func (p *EchoProtocol) Notify(ctx *ProtocolContextRef, token uint64) {}

// EchoProtocolID is the fixed protocol id cmd/peer registers EchoProtocol
// under.
const EchoProtocolID ProtocolId = 1

// EchoProtocolName is the wire name negotiated during protocol selection.
const EchoProtocolName = "/meshnet/echo/1.0.0"

// NewEchoProtocolMeta builds the ProtocolMeta for EchoProtocol.
func NewEchoProtocolMeta(logger *slog.Logger) *ProtocolMeta {
	return &ProtocolMeta{
		ID:                EchoProtocolID,
		Name:              EchoProtocolName,
		SupportedVersions: []string{"1.0.0"},
		SessionHandler:    NewEchoProtocol(logger),
	}
}
