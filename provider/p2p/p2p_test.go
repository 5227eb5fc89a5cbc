package p2p_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/provider/p2p"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/value"
)

// TestSendReceiveBatchRoundTrips exercises the framing protocol directly
// over a net.Pipe, without a real Ziti overlay — the part of Peer.Sync
// that is actually ours to get right.
func TestSendReceiveBatchRoundTrips(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	want := change.Batch[change.RowChange]{
		Metadata: change.Metadata{
			RelationName: "blocks",
			SyncToken:    &change.SyncToken{ProviderName: "peer-b", Position: []byte("abc")},
		},
		Changes: []change.RowChange{
			{Table: "blocks", Kind: change.Created, Data: schema.Row{"id": value.String("b1")}, ID: "b1"},
		},
	}

	done := make(chan error, 1)
	go func() { done <- p2p.SendBatch(client, want) }()

	got, err := p2p.ReceiveBatch(server)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, want.Metadata.RelationName, got.Metadata.RelationName)
	require.Len(t, got.Changes, 1)
	assert.Equal(t, "b1", got.Changes[0].ID)
	require.NotNil(t, got.Metadata.SyncToken)
	assert.Equal(t, []byte("abc"), got.Metadata.SyncToken.Position)
}

func TestOpenRequiresIdentityAndServiceName(t *testing.T) {
	_, err := p2p.Open(p2p.Config{})
	assert.Error(t, err)

	_, err = p2p.Open(p2p.Config{IdentityJSON: "{}"})
	assert.Error(t, err, "ServiceName must be required even with an identity present")
}
