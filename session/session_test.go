package session

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnative/qniot/bitarray"
)

func TestNewKeyDeterministic(t *testing.T) {
	bits := bitarray.NewDense([]byte{0xde, 0xad, 0xbe, 0xef}, 32)
	k1, err := NewKey(bits)
	require.NoError(t, err)
	k2, err := NewKey(bits)
	require.NoError(t, err)
	assert.Equal(t, k1.Bytes(), k2.Bytes())
	assert.Len(t, k1.Bytes(), KeySize)
}

func TestNewKeyDistinctInputs(t *testing.T) {
	a, err := NewKey(bitarray.NewDense([]byte{0x01}, 8))
	require.NoError(t, err)
	b, err := NewKey(bitarray.NewDense([]byte{0x02}, 8))
	require.NoError(t, err)
	assert.NotEqual(t, a.Bytes(), b.Bytes())
}

func TestNewKeyRejectsEmpty(t *testing.T) {
	_, err := NewKey(bitarray.Empty())
	assert.Error(t, err)
}

func TestZeroErasesMaterial(t *testing.T) {
	k, err := NewKey(bitarray.Random(rand.New(rand.NewSource(7)), 64))
	require.NoError(t, err)
	require.False(t, k.Empty())

	k.Zero()
	assert.True(t, k.Empty())
	assert.Nil(t, k.Bytes())

	_, err = NewCipher(k)
	assert.Error(t, err)
}

func TestSealOpenRoundTrip(t *testing.T) {
	k, err := NewKey(bitarray.Random(rand.New(rand.NewSource(11)), 128))
	require.NoError(t, err)
	c, err := NewCipher(k)
	require.NoError(t, err)

	msg := []byte("telemetry fragment 42")
	box, err := c.Seal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(box), string(msg))

	got, err := c.Open(box)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestOpenRejectsTampering(t *testing.T) {
	k, err := NewKey(bitarray.Random(rand.New(rand.NewSource(13)), 128))
	require.NoError(t, err)
	c, err := NewCipher(k)
	require.NoError(t, err)

	box, err := c.Seal([]byte("payload"))
	require.NoError(t, err)
	box[len(box)-1] ^= 0x01

	_, err = c.Open(box)
	assert.Error(t, err)
}

func TestOpenRejectsTruncated(t *testing.T) {
	k, err := NewKey(bitarray.Random(rand.New(rand.NewSource(17)), 128))
	require.NoError(t, err)
	c, err := NewCipher(k)
	require.NoError(t, err)

	_, err = c.Open([]byte{0x00, 0x01})
	assert.Error(t, err)
}
