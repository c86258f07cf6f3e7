package archive

import (
	"context"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/flowtable"
	"grimm.is/flowmeta/internal/identity"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/testutil"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T, clk clock.Clock) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state", "flows.db"), clk, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func l34Record(ref flowtable.Reference, last time.Time) flowtable.Record {
	a := netip.MustParseAddr("10.0.0.1")
	return flowtable.Record{
		Ref: ref,
		Key: flowtable.Key{L34: &flowtable.L34Key{
			IPA:   a,
			IPB:   netip.MustParseAddr("10.0.0.2"),
			Proto: 6,
			Ports: &flowtable.PortPair{A: 1000, B: 80},
		}},
		TimeFirst:           last.Add(-time.Minute),
		TimeLast:            last,
		PacketsToController: 7,
		Actions: &flowtable.Actions{
			Rule:           "web",
			Classification: map[string]string{"qos_treatment": "high_priority"},
			OutQueue:       1,
		},
		Identities: map[netip.Addr]identity.Identity{
			a: {Hostname: "alice", Source: identity.SourceDNS, Updated: epoch},
		},
	}
}

func TestWriteAndRecent(t *testing.T) {
	clk := clock.NewMock(epoch)
	db := openTestDB(t, clk)
	ctx := context.Background()

	l2 := flowtable.Record{
		Ref: 2,
		Key: flowtable.Key{L2: &flowtable.L2Key{
			EthA:      testutil.MAC("aa:aa:aa:aa:aa:01"),
			EthB:      testutil.MAC("ff:ff:ff:ff:ff:ff"),
			EtherType: 0x0806,
		}},
		TimeFirst:           epoch,
		TimeLast:            epoch,
		PacketsToController: 1,
	}
	require.NoError(t, db.WriteEvicted(ctx, []flowtable.Record{l34Record(1, epoch), l2}))

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	flows, err := db.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, flows, 2)

	// newest first
	got := flows[0]
	assert.Equal(t, uint64(2), got.Ref)
	assert.Equal(t, "l2", got.Kind)
	assert.Equal(t, "aa:aa:aa:aa:aa:01", got.EndpointA)
	assert.Equal(t, uint16(0x0806), got.EtherType)
	assert.Nil(t, got.Classification)
	assert.Empty(t, got.Rule)

	got = flows[1]
	assert.Equal(t, db.RunID(), got.RunID)
	assert.Equal(t, "l34", got.Kind)
	assert.Equal(t, "10.0.0.1", got.EndpointA)
	assert.Equal(t, "10.0.0.2", got.EndpointB)
	assert.Equal(t, uint8(6), got.Proto)
	assert.Equal(t, uint16(1000), got.PortA)
	assert.Equal(t, uint16(80), got.PortB)
	assert.Equal(t, uint64(7), got.Packets)
	assert.True(t, got.TimeLast.Equal(epoch))
	assert.True(t, got.TimeFirst.Equal(epoch.Add(-time.Minute)))
	assert.True(t, got.ArchivedAt.Equal(epoch))
	assert.Equal(t, "web", got.Rule)
	assert.Equal(t, 1, got.OutQueue)
	assert.Equal(t, "high_priority", got.Classification["qos_treatment"])
	assert.Equal(t, "alice", got.Identities["10.0.0.1"].Hostname)
}

func TestRecentLimit(t *testing.T) {
	db := openTestDB(t, clock.NewMock(epoch))
	ctx := context.Background()

	var recs []flowtable.Record
	for i := 1; i <= 5; i++ {
		recs = append(recs, l34Record(flowtable.Reference(i), epoch))
	}
	require.NoError(t, db.WriteEvicted(ctx, recs))

	flows, err := db.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, flows, 3)
	assert.Equal(t, uint64(5), flows[0].Ref)
	assert.Equal(t, uint64(3), flows[2].Ref)
}

func TestWriteEmpty(t *testing.T) {
	db := openTestDB(t, nil)
	require.NoError(t, db.WriteEvicted(context.Background(), nil))

	n, err := db.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunsKeepReferencesApart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.db")
	ctx := context.Background()

	first, err := Open(path, clock.NewMock(epoch), logging.Discard())
	require.NoError(t, err)
	require.NoError(t, first.WriteEvicted(ctx, []flowtable.Record{l34Record(1, epoch)}))
	require.NoError(t, first.Close())

	second, err := Open(path, clock.NewMock(epoch), logging.Discard())
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.WriteEvicted(ctx, []flowtable.Record{l34Record(1, epoch)}))

	assert.NotEqual(t, first.RunID(), second.RunID())
	n, err := second.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "reference 1 from two runs is two rows")
}

func TestPrune(t *testing.T) {
	clk := clock.NewMock(epoch)
	db := openTestDB(t, clk)
	ctx := context.Background()

	require.NoError(t, db.WriteEvicted(ctx, []flowtable.Record{
		l34Record(1, epoch.Add(-48*time.Hour)),
		l34Record(2, epoch.Add(-time.Hour)),
	}))

	n, err := db.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	flows, err := db.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, uint64(2), flows[0].Ref)
}
