package block

import (
	"fmt"
	"testing"

	"github.com/hupe1980/segtree/internal/compress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloads(items [][]byte) []string {
	out := make([]string, len(items))
	for i, p := range items {
		out[i] = string(p)
	}
	return out
}

func TestBlock_AppendOrder(t *testing.T) {
	b := New()
	b.Append(5, []byte("abc"))
	b.Append(3, []byte("xy"))
	b.Append(9, []byte("z"))
	b.Append(5, []byte("second"))
	b.Append(5, []byte("third"))

	require.Equal(t, 5, b.Len())
	assert.Equal(t, uint64(3), b.MinID())
	assert.Equal(t, uint64(9), b.MaxID())
	assert.Equal(t, 3, b.UniqueIDs())

	var ids []uint64
	for _, e := range b.Entries() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []uint64{3, 5, 5, 5, 9}, ids)

	// Duplicates keep insertion order.
	assert.Equal(t, []string{"abc", "second", "third"}, payloads(b.GetItems(5)))
	assert.Equal(t, 3, b.ItemCount(5))

	item, ok := b.GetItem(5, 1)
	require.True(t, ok)
	assert.Equal(t, "second", string(item))

	_, ok = b.GetItem(5, 3)
	assert.False(t, ok)
	_, ok = b.GetItem(4, 0)
	assert.False(t, ok)
	assert.Nil(t, b.GetItems(4))
}

func TestBlock_Remove(t *testing.T) {
	b := New()
	b.Append(1, []byte("a"))
	b.Append(1, []byte("b"))
	b.Append(1, []byte("a"))
	b.Append(2, []byte("c"))

	assert.False(t, b.Remove(1, []byte("zzz")))
	assert.False(t, b.Remove(7, []byte("a")))

	// Removes exactly one matching entry.
	assert.True(t, b.Remove(1, []byte("a")))
	assert.Equal(t, []string{"b", "a"}, payloads(b.GetItems(1)))
	assert.True(t, b.Contains(1, []byte("a")))

	assert.Equal(t, 2, b.RemoveID(1))
	assert.Equal(t, 0, b.RemoveID(1))
	assert.False(t, b.ContainsID(1))
	assert.True(t, b.ContainsID(2))
	assert.Equal(t, 1, b.Len())
}

func TestBlock_BytesTracksEncoding(t *testing.T) {
	b := New()
	for i := 0; i < 300; i++ {
		b.Append(uint64(i%17), []byte(fmt.Sprintf("payload-%d", i)))
		raw, err := b.MarshalBinary()
		require.NoError(t, err)
		require.Equal(t, len(raw), b.Bytes())
	}
	for i := 0; i < 17; i += 2 {
		b.RemoveID(uint64(i))
		raw, err := b.MarshalBinary()
		require.NoError(t, err)
		require.Equal(t, len(raw), b.Bytes())
	}
}

func TestBlock_EncodeDecode(t *testing.T) {
	b := New()
	for i := 0; i < 100; i++ {
		b.Append(uint64(100-i), []byte(fmt.Sprintf("value-%03d", i)))
	}
	b.Append(50, nil)

	for _, codec := range []compress.Type{compress.TypeNone, compress.TypeLZ4, compress.TypeZSTD, compress.TypeSnappy} {
		t.Run(codec.String(), func(t *testing.T) {
			frame, err := b.Encode(codec)
			require.NoError(t, err)

			got, err := Decode(append(frame, 0, 0, 0))
			require.NoError(t, err)
			assert.Equal(t, b.Len(), got.Len())
			assert.Equal(t, b.MinID(), got.MinID())
			assert.Equal(t, b.MaxID(), got.MaxID())
			assert.Equal(t, b.Bytes(), got.Bytes())
			assert.Equal(t, payloads(b.GetItems(50)), payloads(got.GetItems(50)))
		})
	}
}

func TestBlock_UnmarshalRejectsGarbage(t *testing.T) {
	b := New()
	assert.ErrorIs(t, b.UnmarshalBinary(nil), ErrShortRead)
	assert.ErrorIs(t, b.UnmarshalBinary([]byte{5, 1, 2}), ErrShortRead)

	good := New()
	good.Append(2, []byte("x"))
	good.Append(1, []byte("y"))
	raw, err := good.MarshalBinary()
	require.NoError(t, err)
	assert.ErrorIs(t, b.UnmarshalBinary(append(raw, 0)), ErrTrailing)

	// Swap the two ids to break ordering.
	raw[1], raw[1+8+1+1] = raw[1+8+1+1], raw[1]
	assert.ErrorIs(t, b.UnmarshalBinary(raw), ErrUnordered)
}

func TestBlock_SplitKeepsIDsTogether(t *testing.T) {
	b := New()
	for id := uint64(1); id <= 10; id++ {
		for j := 0; j < 3; j++ {
			b.Append(id, []byte("0123456789"))
		}
	}

	i := b.SplitIndex(b.Bytes() / 2)
	require.Greater(t, i, 0)
	require.NotEqual(t, b.Entries()[i-1].ID, b.Entries()[i].ID)

	total := b.Len()
	tail := b.TakeTail(i)
	assert.Equal(t, total, b.Len()+tail.Len())
	assert.Less(t, b.MaxID(), tail.MinID())
	assert.InDelta(t, tail.Bytes(), b.Bytes(), float64(3*entrySize(Entry{Payload: []byte("0123456789")})))

	joined := Concat(b, tail)
	assert.Equal(t, total, joined.Len())
	assert.Equal(t, uint64(1), joined.MinID())
	assert.Equal(t, uint64(10), joined.MaxID())
}

func TestBlock_SplitSingleID(t *testing.T) {
	b := New()
	for j := 0; j < 10; j++ {
		b.Append(7, []byte("same id"))
	}
	assert.Equal(t, 0, b.SplitIndex(b.Bytes()/2))
}
