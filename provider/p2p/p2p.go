// Package p2p models the transport boundary for peer-to-peer sync over an
// OpenZiti overlay network: dialing/listening on a named service and
// framing change.Batch[change.RowChange] exchanges over the resulting
// connection. It deliberately does not implement CRDT merge semantics
// (spec.md Non-goal) — Sync here means "exchange whatever the peer has
// accumulated since last contact" with last-writer-wins resolution left
// to the storage layer, same as any other SyncableProvider.
//
// Grounded on the teacher's transport/ziti.go and network/ziti.go: load
// an identity (file or inline JSON via a temp file) with
// ziti.NewConfigFromFile, build a ziti.Context with ziti.NewContext,
// dial/listen named services through it. Reworked from an
// http.RoundTripper wrapper into a raw net.Conn peer exchange, since P2P
// sync here exchanges framed batches directly rather than HTTP requests.
package p2p

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/openziti/sdk-golang/ziti"

	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/holonerr"
	"github.com/nightscape/holon/holonlog"
	"github.com/nightscape/holon/operation"
	"github.com/nightscape/holon/provider"
	"github.com/nightscape/holon/value"
)

// Config identifies this peer on the overlay network.
type Config struct {
	// IdentityFile is a path to a Ziti identity JSON file. Mutually
	// exclusive with IdentityJSON.
	IdentityFile string
	// IdentityJSON is an inline identity, written to a temp file before
	// loading (matching the teacher's NewZitiTransport fallback).
	IdentityJSON string
	// ServiceName is the Ziti service this peer dials or listens on.
	ServiceName string
}

// Transport wraps a ziti.Context bound to one named service.
type Transport struct {
	cfg Config
	ctx ziti.Context
}

// Open loads the configured identity and builds a Transport.
func Open(cfg Config) (*Transport, error) {
	if cfg.IdentityFile == "" && cfg.IdentityJSON == "" {
		return nil, holonerr.New(holonerr.KindValidation, fmt.Errorf("p2p: IdentityFile or IdentityJSON is required"))
	}
	if cfg.ServiceName == "" {
		return nil, holonerr.New(holonerr.KindValidation, fmt.Errorf("p2p: ServiceName is required"))
	}

	identityPath := cfg.IdentityFile
	if identityPath == "" {
		tmp, err := os.CreateTemp("", "holon-p2p-identity-*.json")
		if err != nil {
			return nil, holonerr.New(holonerr.KindResource, err)
		}
		defer func() { _ = os.Remove(tmp.Name()) }()
		if _, err := tmp.WriteString(cfg.IdentityJSON); err != nil {
			return nil, holonerr.New(holonerr.KindResource, err)
		}
		_ = tmp.Close()
		identityPath = tmp.Name()
	}

	zcfg, err := ziti.NewConfigFromFile(identityPath)
	if err != nil {
		return nil, holonerr.New(holonerr.KindExternal, fmt.Errorf("p2p: parsing ziti identity: %w", err))
	}
	zctx, err := ziti.NewContext(zcfg)
	if err != nil {
		return nil, holonerr.New(holonerr.KindExternal, fmt.Errorf("p2p: creating ziti context: %w", err))
	}

	return &Transport{cfg: cfg, ctx: zctx}, nil
}

// Close releases the underlying Ziti context.
func (t *Transport) Close() error {
	if t.ctx != nil {
		t.ctx.Close()
	}
	return nil
}

// Dial connects to the configured service on another peer.
func (t *Transport) Dial() (net.Conn, error) {
	conn, err := t.ctx.Dial(t.cfg.ServiceName)
	if err != nil {
		return nil, holonerr.New(holonerr.KindExternal, fmt.Errorf("p2p: dialing service %s: %w", t.cfg.ServiceName, err))
	}
	return conn, nil
}

// Listen hosts the configured service for other peers to dial.
func (t *Transport) Listen() (net.Listener, error) {
	l, err := t.ctx.Listen(t.cfg.ServiceName)
	if err != nil {
		return nil, holonerr.New(holonerr.KindExternal, fmt.Errorf("p2p: listening on service %s: %w", t.cfg.ServiceName, err))
	}
	return l, nil
}

// writeFrame/readFrame give the peer exchange a simple length-prefixed
// JSON framing so a Batch of arbitrary size can ride one net.Conn write.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SendBatch frames and writes one batch of row changes to conn.
func SendBatch(conn net.Conn, batch change.Batch[change.RowChange]) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return holonerr.New(holonerr.KindInternal, err)
	}
	if err := writeFrame(conn, payload); err != nil {
		return holonerr.New(holonerr.KindNetwork, err)
	}
	return nil
}

// ReceiveBatch reads and decodes one framed batch from conn.
func ReceiveBatch(conn net.Conn) (change.Batch[change.RowChange], error) {
	payload, err := readFrame(bufio.NewReader(conn))
	if err != nil {
		return change.Batch[change.RowChange]{}, holonerr.New(holonerr.KindNetwork, err)
	}
	var batch change.Batch[change.RowChange]
	if err := json.Unmarshal(payload, &batch); err != nil {
		return change.Batch[change.RowChange]{}, holonerr.New(holonerr.KindInternal, err)
	}
	return batch, nil
}

// Peer is a SyncableProvider exchanging row-change batches with exactly
// one counterpart over a Transport. It dials the peer, sends whatever
// Outbox holds since the last successful exchange, receives the peer's
// batch in return, and publishes it — pure transport, no conflict
// resolution (spec.md Non-goal: left to storage's own last-write-wins).
type Peer struct {
	name      string
	transport *Transport
	outbox    func(ctx context.Context, since provider.Position) (change.Batch[change.RowChange], error)
	inbound   chan change.Batch[change.RowChange]
}

// NewPeer builds a Peer named name, dialing through transport. outbox
// supplies the local changes to send on each Sync call (the caller's
// storage layer owns what "changed since last sync" means).
func NewPeer(name string, transport *Transport, outbox func(ctx context.Context, since provider.Position) (change.Batch[change.RowChange], error)) *Peer {
	return &Peer{name: name, transport: transport, outbox: outbox, inbound: make(chan change.Batch[change.RowChange], 16)}
}

// Inbound exposes batches received from the remote peer for a caller to
// apply to its own storage.
func (p *Peer) Inbound() <-chan change.Batch[change.RowChange] { return p.inbound }

// Name satisfies provider.SyncableProvider.
func (p *Peer) Name() string { return p.name }

// Sync dials the peer once, exchanges one batch in each direction, and
// returns the position the peer reported back (its own notion of
// progress, opaque to us — we persist it only to hand back next time).
func (p *Peer) Sync(ctx context.Context, current provider.Position) (provider.Position, error) {
	log := holonlog.For("provider.p2p").WithField("peer", p.name)

	conn, err := p.transport.Dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	outgoing, err := p.outbox(ctx, current)
	if err != nil {
		return nil, err
	}
	if err := SendBatch(conn, outgoing); err != nil {
		return nil, err
	}

	incoming, err := ReceiveBatch(conn)
	if err != nil {
		return nil, err
	}

	select {
	case p.inbound <- incoming:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var newPosition provider.Position
	if incoming.Metadata.SyncToken != nil {
		newPosition = incoming.Metadata.SyncToken.Position
	}
	log.WithField("sent", len(outgoing.Changes)).WithField("received", len(incoming.Changes)).Debug("exchange complete")
	return newPosition, nil
}

// Operations satisfies provider.SyncableProvider.
func (p *Peer) Operations() operation.Provider { return &syncProvider{p} }

type syncProvider struct{ p *Peer }

func (s *syncProvider) Operations() []operation.Descriptor {
	return []operation.Descriptor{{
		EntityName:  provider.SyncEntityName(s.p.Name()),
		Name:        provider.SyncOperationName,
		DisplayName: "Exchange with peer " + s.p.name,
	}}
}

func (s *syncProvider) Execute(ctx context.Context, entity, name string, params map[string]value.Value) (operation.UndoAction, error) {
	if entity != provider.SyncEntityName(s.p.Name()) || name != provider.SyncOperationName {
		return operation.UndoAction{}, holonerr.New(holonerr.KindValidation, holonerr.ErrUnknownOperation).WithEntity(entity, name)
	}
	var current provider.Position
	if v, ok := params["position"]; ok && !v.IsNull() {
		current = provider.Position(v.MustString())
	}
	if _, err := s.p.Sync(ctx, current); err != nil {
		return operation.UndoAction{}, err
	}
	return operation.UndoAction{Kind: operation.Irreversible}, nil
}
