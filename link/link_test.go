package link

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/archiver/contentkey"
)

const testHex = "95a964430e5a5c5203dde674a1873e51f2e8e78995855c1481020f405ee9a772"

func TestParse(t *testing.T) {
	want := contentkey.MustParse(testHex)

	tests := []struct {
		name string
		in   string
	}{
		{"bare hex", testHex},
		{"bare hex with spaces", "  " + testHex + "\n"},
		{"upper hex", strings.ToUpper(testHex)},
		{"dat url", "dat://" + testHex + "/"},
		{"dat url no slash", "dat://" + testHex},
		{"dat url with version", "dat://" + testHex + "+42/"},
		{"dat url with path", "dat://" + testHex + "/some/file.txt"},
		{"hyper url", "hyper://" + testHex + "/"},
		{"upper scheme", "DAT://" + testHex},
		{"https path", "https://datbase.org/" + testHex},
		{"http key host", "http://" + testHex + "/"},
		{"https key host with version", "https://" + testHex + "+12/docs"},
		{"https nested path", "http://example.com/view/" + testHex + "/index.html"},
		{"key cid", want.CID().String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseNotAKey(t *testing.T) {
	for _, in := range []string{
		"",
		"notes.txt",
		".archiver",
		"dat://example.com/",
		"dat://" + testHex[:10],
		"https://example.com/nothing/here",
		testHex + "ff",
	} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrNotAKey, "input %q", in)
	}
}

func TestHost(t *testing.T) {
	assert.Equal(t, "example.com", Host("dat://example.com/path"))
	assert.Equal(t, "example.com:8080", Host("https://example.com:8080/x"))
	assert.Equal(t, "example.com", Host("example.com"))
	assert.Equal(t, testHex, Host("dat://"+testHex+"+3/"))
}

func TestResolverParsesWithoutNetwork(t *testing.T) {
	r := &Resolver{
		LookupTXT: func(context.Context, string) ([]string, error) {
			t.Fatalf("unexpected network lookup")
			return nil, nil
		},
	}
	got, err := r.Resolve(context.Background(), "dat://"+testHex+"/")
	require.NoError(t, err)
	assert.Equal(t, testHex, got.String())
}

func TestResolverWellKnown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != wellKnownPath {
			http.NotFound(w, req)
			return
		}
		fmt.Fprintf(w, "dat://%s\nTTL=3600\n", testHex)
	}))
	defer srv.Close()

	r := &Resolver{
		HTTPClient: srv.Client(),
		Scheme:     "http",
		LookupTXT: func(context.Context, string) ([]string, error) {
			return nil, errors.New("no dns in tests")
		},
	}
	got, err := r.Resolve(context.Background(), "dat://"+Host(srv.URL)+"/")
	require.NoError(t, err)
	assert.Equal(t, testHex, got.String())
}

func TestResolverTXTFallback(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	var looked string
	r := &Resolver{
		HTTPClient: srv.Client(),
		Scheme:     "http",
		LookupTXT: func(_ context.Context, name string) ([]string, error) {
			looked = name
			return []string{"v=spf1 -all", "datkey=" + testHex}, nil
		},
	}
	got, err := r.Resolve(context.Background(), Host(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, testHex, got.String())
	assert.Equal(t, "127.0.0.1", looked)
}

func TestResolverOffline(t *testing.T) {
	r := &Resolver{Offline: true}
	_, err := r.Resolve(context.Background(), "dat://example.com/")
	assert.ErrorIs(t, err, ErrNotAKey)
}

func TestResolverGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := &Resolver{
		HTTPClient: srv.Client(),
		Scheme:     "http",
		LookupTXT: func(context.Context, string) ([]string, error) {
			return []string{"unrelated"}, nil
		},
	}
	_, err := r.Resolve(context.Background(), Host(srv.URL))
	assert.ErrorIs(t, err, ErrNotAKey)

	_, err = r.Resolve(context.Background(), "localhost")
	assert.ErrorIs(t, err, ErrNotAKey)
}
