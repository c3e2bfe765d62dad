package link

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"xdao.co/archiver/contentkey"
)

const (
	wellKnownPath = "/.well-known/dat"
	txtPrefix     = "datkey="

	// maxWellKnownBytes bounds how much of a well-known response is read.
	maxWellKnownBytes = 4096
)

// Resolver resolves links, falling back to network lookups for host names.
//
// The zero value is usable: it uses http.DefaultClient with DefaultTimeout and
// the system DNS resolver.
type Resolver struct {
	// HTTPClient fetches /.well-known/dat. Nil uses a client with Timeout.
	HTTPClient *http.Client
	// LookupTXT resolves DNS TXT records. Nil uses net.DefaultResolver.
	LookupTXT func(ctx context.Context, name string) ([]string, error)
	// Scheme for well-known lookups; "https" when empty.
	Scheme string
	// Timeout applies to each lookup when non-zero.
	Timeout time.Duration
	// Offline disables network lookups; only Parse is used.
	Offline bool

	Log *zap.SugaredLogger
}

const DefaultTimeout = 5 * time.Second

// Resolve returns the content key for s.
func (r *Resolver) Resolve(ctx context.Context, s string) (contentkey.Key, error) {
	k, perr := Parse(s)
	if perr == nil {
		return k, nil
	}
	if r == nil || r.Offline {
		return contentkey.Key{}, perr
	}

	host := Host(s)
	if host == "" || !strings.Contains(host, ".") {
		return contentkey.Key{}, perr
	}

	k, err := r.wellKnown(ctx, host)
	if err == nil {
		return k, nil
	}
	r.log().Debugw("Well-known lookup failed.", "host", host, "err", err)

	k, err = r.dnsTXT(ctx, host)
	if err == nil {
		return k, nil
	}
	r.log().Debugw("TXT lookup failed.", "host", host, "err", err)

	return contentkey.Key{}, fmt.Errorf("%w: %s", ErrNotAKey, s)
}

func (r *Resolver) wellKnown(ctx context.Context, host string) (contentkey.Key, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	scheme := r.Scheme
	if scheme == "" {
		scheme = "https"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host+wellKnownPath, nil)
	if err != nil {
		return contentkey.Key{}, err
	}
	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return contentkey.Key{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return contentkey.Key{}, fmt.Errorf("link: %s%s: %s", host, wellKnownPath, resp.Status)
	}

	sc := bufio.NewScanner(io.LimitReader(resp.Body, maxWellKnownBytes))
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return contentkey.Key{}, err
		}
		return contentkey.Key{}, fmt.Errorf("link: %s%s: empty response", host, wellKnownPath)
	}
	return Parse(sc.Text())
}

func (r *Resolver) dnsTXT(ctx context.Context, host string) (contentkey.Key, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	lookup := r.LookupTXT
	if lookup == nil {
		lookup = net.DefaultResolver.LookupTXT
	}
	name, _, _ := strings.Cut(host, ":")
	records, err := lookup(ctx, name)
	if err != nil {
		return contentkey.Key{}, err
	}
	for _, rec := range records {
		if v, ok := strings.CutPrefix(strings.TrimSpace(rec), txtPrefix); ok {
			if k, err := contentkey.Parse(v); err == nil {
				return k, nil
			}
		}
	}
	return contentkey.Key{}, fmt.Errorf("link: no %s record for %s", txtPrefix, name)
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	t := r.Timeout
	if t <= 0 {
		t = DefaultTimeout
	}
	return context.WithTimeout(ctx, t)
}

func (r *Resolver) log() *zap.SugaredLogger {
	if r.Log == nil {
		return zap.NewNop().Sugar()
	}
	return r.Log
}
