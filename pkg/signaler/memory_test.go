package signaler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TotallyBullshit/SignalR/pkg/signaler"
)

func TestMemoryStore_SaveAssignsMonotonicIDs(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := signaler.NewMemoryStore(0)

	first, err := store.Save(ctx, "a", []byte(`1`))
	req.NoError(err)
	second, err := store.Save(ctx, "b", []byte(`2`))
	req.NoError(err)
	third, err := store.Save(ctx, "a", []byte(`3`))
	req.NoError(err)

	req.Equal(uint64(1), first.ID)
	req.Equal(uint64(2), second.ID)
	req.Equal(uint64(3), third.ID)

	latest, err := store.Latest(ctx)
	req.NoError(err)
	req.Equal(uint64(3), latest)
}

func TestMemoryStore_SaveEmptySignal(t *testing.T) {
	req := require.New(t)
	store := signaler.NewMemoryStore(0)

	_, err := store.Save(context.Background(), "", []byte(`1`))
	req.ErrorIs(err, signaler.ErrEmptySignal)
}

func TestMemoryStore_SinceFiltersAndOrders(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := signaler.NewMemoryStore(0)

	for _, save := range []struct {
		signal string
		data   string
	}{
		{"a", `"a1"`},
		{"b", `"b1"`},
		{"c", `"c1"`},
		{"a", `"a2"`},
	} {
		_, err := store.Save(ctx, save.signal, []byte(save.data))
		req.NoError(err)
	}

	msgs, latest, err := store.Since(ctx, []string{"b", "a"}, 0)
	req.NoError(err)
	req.Equal(uint64(4), latest)
	req.Len(msgs, 3)
	req.Equal([]byte(`"a1"`), msgs[0].Data)
	req.Equal([]byte(`"b1"`), msgs[1].Data)
	req.Equal([]byte(`"a2"`), msgs[2].Data)

	msgs, latest, err = store.Since(ctx, []string{"b", "a"}, 2)
	req.NoError(err)
	req.Equal(uint64(4), latest)
	req.Len(msgs, 1)
	req.Equal([]byte(`"a2"`), msgs[0].Data)

	msgs, _, err = store.Since(ctx, []string{"missing"}, 0)
	req.NoError(err)
	req.Empty(msgs)
}

func TestMemoryStore_LimitDropsOldest(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := signaler.NewMemoryStore(3)

	for _, data := range []string{`"1"`, `"2"`, `"3"`, `"4"`, `"5"`} {
		_, err := store.Save(ctx, "a", []byte(data))
		req.NoError(err)
	}

	msgs, latest, err := store.Since(ctx, []string{"a"}, 0)
	req.NoError(err)
	req.Equal(uint64(5), latest)
	req.Len(msgs, 3)
	req.Equal([]byte(`"3"`), msgs[0].Data)
	req.Equal([]byte(`"5"`), msgs[2].Data)
}
