package manager

import (
	"os"
	"sort"

	"xdao.co/archiver/contentkey"
	"xdao.co/archiver/link"
)

// Scan returns the content keys named by the immediate subdirectories of dir,
// sorted by hex form. Entries that are not directories named by a key in its
// canonical form are skipped silently; only a failure to read dir itself is
// an error.
func Scan(dir string) ([]contentkey.Key, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	keys := make([]contentkey.Key, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		k, err := link.Parse(e.Name())
		if err != nil || k.String() != e.Name() {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}
