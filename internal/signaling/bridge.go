// Package signaling implements the binary signaling bridge of spec.md
// §4.6: a WebSocket client carrying make/conn/join/sign/sigx/fail
// envelopes between the session and the external signaling server,
// and the dispatch that turns inbound sign/sigx traffic into ICE
// agent lifecycle calls.
package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/netplay/internal/packet"
)

const (
	writeTimeout      = 10 * time.Second
	maxReconnectDelay = 10 * time.Second
	readLimitBytes    = 64 * 1024
)

// Handlers are the session's callbacks for each inbound signal kind.
// Only the kinds the session cares about need be set; nil handlers
// are skipped.
type Handlers struct {
	OnConn func(packet.ConnMessage)
	OnMake func(packet.MakeMessage)
	OnJoin func(packet.JoinMessage)
	OnSign func(packet.SignalPayload)
	OnSigx func(packet.SignalPayload)
	OnFail func(packet.FailMessage)
}

// Bridge is an outbound WebSocket client connecting the session to the
// signaling server, modeled on the teacher's ws.Client reconnect loop
// but carrying binary envelopes instead of JSON.
type Bridge struct {
	URL string

	Handlers Handlers

	// OnStateChange reports connection lifecycle transitions:
	// "connecting", "connected", "disconnected".
	OnStateChange func(state string, err error)

	Logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// Run dials the signaling server and processes messages until ctx is
// cancelled, automatically reconnecting with exponential backoff.
func (b *Bridge) Run(ctx context.Context) error {
	b.notifyState("connecting", nil)
	delay := time.Second
	for {
		err := b.connectAndServe(ctx)
		if ctx.Err() != nil {
			b.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		}
		b.notifyState("disconnected", err)
		b.logger().Warn("signaling disconnected, reconnecting", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			b.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
		b.notifyState("connecting", nil)
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Bridge) notifyState(state string, err error) {
	if b.OnStateChange != nil {
		b.OnStateChange(state, err)
	}
}

func (b *Bridge) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, b.URL, nil)
	if err != nil {
		return fmt.Errorf("signaling: dial: %w", err)
	}
	conn.SetReadLimit(readLimitBytes)
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	defer conn.CloseNow()

	b.notifyState("connected", nil)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("signaling: read: %w", err)
		}
		if typ != websocket.MessageBinary {
			b.logger().Warn("signaling: ignoring non-binary frame", "type", typ)
			continue
		}
		if err := b.dispatch(data); err != nil {
			b.logger().Warn("signaling: dropping malformed message", "error", err)
		}
	}
}

func (b *Bridge) dispatch(data []byte) error {
	kind, _, body, err := packet.SplitEnvelope(data)
	if err != nil {
		return err
	}

	switch kind {
	case packet.SignalConn:
		msg, err := packet.UnmarshalConnMessage(body)
		if err != nil {
			return err
		}
		if b.Handlers.OnConn != nil {
			b.Handlers.OnConn(msg)
		}
	case packet.SignalMake:
		msg, err := packet.UnmarshalMakeMessage(body)
		if err != nil {
			return err
		}
		if b.Handlers.OnMake != nil {
			b.Handlers.OnMake(msg)
		}
	case packet.SignalJoin:
		msg, err := packet.UnmarshalJoinMessage(body)
		if err != nil {
			return err
		}
		if b.Handlers.OnJoin != nil {
			b.Handlers.OnJoin(msg)
		}
	case packet.SignalSign:
		msg, err := packet.UnmarshalSignalPayload(body)
		if err != nil {
			return err
		}
		if b.Handlers.OnSign != nil {
			b.Handlers.OnSign(msg)
		}
	case packet.SignalSigx:
		msg, err := packet.UnmarshalSignalPayload(body)
		if err != nil {
			return err
		}
		if b.Handlers.OnSigx != nil {
			b.Handlers.OnSigx(msg)
		}
	case packet.SignalFail:
		msg, err := packet.UnmarshalFailMessage(body)
		if err != nil {
			return err
		}
		if b.Handlers.OnFail != nil {
			b.Handlers.OnFail(msg)
		}
	default:
		return fmt.Errorf("signaling: unhandled signal kind %d", kind)
	}
	return nil
}

// send writes a complete envelope to the current connection.
func (b *Bridge) send(ctx context.Context, kind packet.SignalKind, body []byte) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("signaling: not connected")
	}

	wire, err := packet.MarshalEnvelope(kind, body)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageBinary, wire)
}

// SendJoin transmits a JOINSMxy envelope.
func (b *Bridge) SendJoin(ctx context.Context, msg packet.JoinMessage) error {
	body, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	return b.send(ctx, packet.SignalJoin, body)
}

// SendMake transmits a MAKESMxy envelope.
func (b *Bridge) SendMake(ctx context.Context, msg packet.MakeMessage) error {
	body, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	return b.send(ctx, packet.SignalMake, body)
}

// SendSign transmits a SIGNSMxy envelope (SDP or candidate, addressed
// to peerID; empty SDP means "gathering done").
func (b *Bridge) SendSign(ctx context.Context, peerID uint64, sdp string) error {
	body, err := packet.SignalPayload{PeerID: peerID, SDP: sdp}.MarshalBinary()
	if err != nil {
		return err
	}
	return b.send(ctx, packet.SignalSign, body)
}

// SendSigx transmits a SIGXSMxy envelope, valid only from spectator
// ports, signaling a voluntary disconnect.
func (b *Bridge) SendSigx(ctx context.Context, peerID uint64) error {
	body, err := packet.SignalPayload{PeerID: peerID}.MarshalBinary()
	if err != nil {
		return err
	}
	return b.send(ctx, packet.SignalSigx, body)
}

// SendFail transmits a FAILSMxy envelope reporting a protocol
// violation to the signaling server.
func (b *Bridge) SendFail(ctx context.Context, msg packet.FailMessage) error {
	body, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	return b.send(ctx, packet.SignalFail, body)
}
