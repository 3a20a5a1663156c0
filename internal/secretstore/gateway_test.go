package secretstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rallyops/rallypoint/internal/secretstore"
)

func TestGateway_NamespacesByClusterAndName(t *testing.T) {
	gw := secretstore.NewGateway(secretstore.NewMemory(), "/rallypoint", "prod-workers")
	require.Equal(t, "/rallypoint/prod-workers/bootstrap", gw.Key("bootstrap"))

	// Prefix normalization: slashes collapse to one canonical shape.
	gw2 := secretstore.NewGateway(secretstore.NewMemory(), "custom/", "c")
	require.Equal(t, "/custom/c/x", gw2.Key("x"))
}

func TestGateway_ClustersAreIsolated(t *testing.T) {
	mem := secretstore.NewMemory()
	a := secretstore.NewGateway(mem, "", "cluster-a")
	b := secretstore.NewGateway(mem, "", "cluster-b")

	require.NoError(t, a.CreateBootstrap(context.Background(), "secret-a"))

	_, err := b.GetBootstrap(context.Background())
	require.ErrorIs(t, err, secretstore.ErrNotFound)

	got, err := a.GetBootstrap(context.Background())
	require.NoError(t, err)
	require.Equal(t, "secret-a", got.Value)
	require.Equal(t, "cluster-a", got.Cluster)
}

func TestGateway_CreateNeverOverwrites(t *testing.T) {
	gw := secretstore.NewGateway(secretstore.NewMemory(), "", "c")
	require.NoError(t, gw.Create(context.Background(), "bootstrap", "first"))

	err := gw.Create(context.Background(), "bootstrap", "second")
	require.ErrorIs(t, err, secretstore.ErrAlreadyExists)

	got, err := gw.Get(context.Background(), "bootstrap")
	require.NoError(t, err)
	require.Equal(t, "first", got.Value)
}

func TestMemory_ConcurrentCreateHasOneWinner(t *testing.T) {
	mem := secretstore.NewMemory()
	const racers = 16

	var wg sync.WaitGroup
	outcomes := make([]error, racers)
	for i := 0; i < racers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			gw := secretstore.NewGateway(mem, "", "c")
			outcomes[i] = gw.CreateBootstrap(context.Background(), string(rune('a'+i)))
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range outcomes {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, secretstore.ErrAlreadyExists):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, wins, "exactly one concurrent create may succeed")

	// Every racer reads back the same committed value.
	gw := secretstore.NewGateway(mem, "", "c")
	first, err := gw.GetBootstrap(context.Background())
	require.NoError(t, err)
	second, err := gw.GetBootstrap(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.Value, second.Value)
}
