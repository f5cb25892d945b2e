package ttlcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCache_HitWithinTTL(t *testing.T) {
	c := New()
	key := Key("eth_chainId", []byte(`[]`))
	c.Put(key, []byte(`{"result":"0x1"}`), 60*time.Second)

	v, ok := c.Get(key)
	require.True(t, ok)
	require.JSONEq(t, `{"result":"0x1"}`, string(v))
}

func TestCache_MissAfterExpiry(t *testing.T) {
	c := New()
	key := Key("eth_chainId", []byte(`[]`))
	c.Put(key, []byte(`{"result":"0x1"}`), 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get(key)
	require.False(t, ok)
}

func TestKey_CanonicalizesObjectParams(t *testing.T) {
	a := Key("m", []byte(`{"b":1,"a":2}`))
	b := Key("m", []byte(`{"a":2,"b":1}`))
	require.Equal(t, a, b)
}

func TestKey_DifferentMethodsDiffer(t *testing.T) {
	require.NotEqual(t, Key("a", []byte(`[]`)), Key("b", []byte(`[]`)))
}

func TestKey_DifferentParamsDiffer(t *testing.T) {
	require.NotEqual(t, Key("m", []byte(`[1]`)), Key("m", []byte(`[2]`)))
}
