package contentkey

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHex = "95a964430e5a5c5203dde674a1873e51f2e8e78995855c1481020f405ee9a772"

func TestParseAndString(t *testing.T) {
	k, err := Parse(testHex)
	require.NoError(t, err)
	assert.Equal(t, testHex, k.String())
	assert.Equal(t, "95a96443", k.Short())
	assert.Equal(t, "dat://"+testHex+"/", k.URL())

	upper, err := Parse(strings.ToUpper(testHex))
	require.NoError(t, err)
	assert.Equal(t, k, upper)
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{
		"",
		testHex[:62],
		testHex + "00",
		"zz" + testHex[2:],
	} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalid, "input %q", in)
	}
}

func TestCIDRoundTrip(t *testing.T) {
	k := MustParse(testHex)
	back, err := FromCID(k.CID())
	require.NoError(t, err)
	assert.Equal(t, k, back)
}

func TestDiscoveryIsDeterministicAndDistinct(t *testing.T) {
	k := MustParse(testHex)
	assert.Equal(t, k.Discovery(), k.Discovery())
	assert.NotEqual(t, [Size]byte(k), [Size]byte(k.Discovery()))

	other := k
	other[0] ^= 0xff
	assert.NotEqual(t, k.Discovery(), other.Discovery())

	d, err := ParseDiscovery(k.Discovery().String())
	require.NoError(t, err)
	assert.Equal(t, k.Discovery(), d)
}

func TestTextMarshaling(t *testing.T) {
	k := MustParse(testHex)
	b, err := json.Marshal(map[string]Key{"key": k})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"`+testHex+`"}`, string(b))

	var out map[string]Key
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, k, out["key"])
}
