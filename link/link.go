// Package link turns human-facing archive links into content keys.
//
// Parse is pure and never touches the network; it is what the directory
// scanner uses to decide whether an entry names an archive. Resolver adds the
// network lookups (well-known file over HTTPS, DNS TXT record) for links that
// name a host instead of a key.
package link

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/archiver/contentkey"
)

// ErrNotAKey is returned when a string does not resolve to a content key.
var ErrNotAKey = errors.New("link: not an archive key")

var schemes = []string{"dat://", "hyper://"}

// Parse decodes s without any network access. Accepted forms:
//
//	<64 hex>
//	dat://<64 hex>[+version][/path]
//	hyper://<64 hex>[+version][/path]
//	http(s)://<64 hex>[+version][/path]
//	http(s)://host/.../<64 hex>[/...]
//	<key CID>
func Parse(s string) (contentkey.Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return contentkey.Key{}, ErrNotAKey
	}
	if k, err := contentkey.Parse(s); err == nil {
		return k, nil
	}

	for _, scheme := range schemes {
		if len(s) > len(scheme) && strings.EqualFold(s[:len(scheme)], scheme) {
			return parseHost(s[len(scheme):], s)
		}
	}

	if rest, ok := cutHTTP(s); ok {
		host, path, _ := strings.Cut(rest, "/")
		host, _, _ = strings.Cut(host, "+")
		if k, err := contentkey.Parse(host); err == nil {
			return k, nil
		}
		for _, seg := range strings.Split(path, "/") {
			if k, err := contentkey.Parse(seg); err == nil {
				return k, nil
			}
		}
		return contentkey.Key{}, fmt.Errorf("%w: %s", ErrNotAKey, s)
	}

	if id, err := cid.Decode(s); err == nil {
		k, err := contentkey.FromCID(id)
		if err != nil {
			return contentkey.Key{}, fmt.Errorf("%w: %v", ErrNotAKey, err)
		}
		return k, nil
	}
	return contentkey.Key{}, fmt.Errorf("%w: %s", ErrNotAKey, s)
}

// parseHost handles the part after a dat:// or hyper:// scheme.
func parseHost(rest, orig string) (contentkey.Key, error) {
	host, _, _ := strings.Cut(rest, "/")
	host, _, _ = strings.Cut(host, "+")
	k, err := contentkey.Parse(host)
	if err != nil {
		return contentkey.Key{}, fmt.Errorf("%w: %s", ErrNotAKey, orig)
	}
	return k, nil
}

func cutHTTP(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, p := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, p) {
			return s[len(p):], true
		}
	}
	return "", false
}

// Host returns the host name a link refers to, if it has one. It strips any
// scheme, path, and version suffix.
func Host(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := cutHTTP(s); ok {
		s = rest
	} else {
		for _, scheme := range schemes {
			if len(s) > len(scheme) && strings.EqualFold(s[:len(scheme)], scheme) {
				s = s[len(scheme):]
				break
			}
		}
	}
	host, _, _ := strings.Cut(s, "/")
	host, _, _ = strings.Cut(host, "+")
	return host
}
