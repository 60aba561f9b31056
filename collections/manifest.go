// Package collections tracks the per-bucket (scope, collection) name to
// 32-bit id mapping (spec.md §3 "Collection map", §4.4). kvsession loads
// it with Refresh once, when a bucket is selected; an "unknown
// collection" reply is surfaced as KindUnknownCollection and does not
// trigger a refresh or a reissue of the request. The
// cache is held in an in-memory buntdb database — never file-backed,
// since the core carries no state across process lifetimes (spec.md §1
// Non-goals) — grounded in the teacher's own use of buntdb as an
// embedded indexed store rather than a plain map, so lookups by
// scope/collection prefix stay a single indexed query.
package collections

import (
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/couchbaselabs/gocbcluster/cberr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultScope and DefaultCollection are the well-known names used when
// a bucket lacks the collections capability (spec.md §3 DocumentId).
const (
	DefaultScope      = "_default"
	DefaultCollection = "_default"
	DefaultID         = uint32(0)
)

type wireManifest struct {
	UID    string `json:"uid"`
	Scopes []struct {
		Name        string `json:"name"`
		UID         string `json:"uid"`
		Collections []struct {
			Name string `json:"name"`
			UID  string `json:"uid"`
		} `json:"collections"`
	} `json:"scopes"`
}

// Manifest is a per-bucket collection map backed by an in-memory
// buntdb database. Zero value is not usable; use New.
type Manifest struct {
	mu  sync.RWMutex
	db  *buntdb.DB
	uid string
}

// New opens a fresh in-memory manifest with only the default
// scope/collection populated (the state every bucket starts in before
// its first GET_COLLECTIONS_MANIFEST round trip).
func New() (*Manifest, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, cberr.Wrap(cberr.KindInternalServer, err, "open in-memory collection manifest store")
	}
	m := &Manifest{db: db}
	if err := m.seedDefault(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manifest) seedDefault() error {
	return m.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key(DefaultScope, DefaultCollection), idValue(DefaultID), nil)
		return err
	})
}

// UID returns the manifest uid last accepted by Refresh, or "" if the
// manifest has never been refreshed from the server.
func (m *Manifest) UID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uid
}

// Lookup resolves (scope, collection) to a 32-bit collection id. ok is
// false when the pair is not present in the cached manifest, in which
// case the caller (kvsession) should trigger Refresh and retry.
func (m *Manifest) Lookup(scope, collection string) (id uint32, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	err := m.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key(scope, collection))
		if err != nil {
			return err
		}
		var parsed uint32
		_, scanErr := fmt.Sscanf(v, "%d", &parsed)
		if scanErr != nil {
			return scanErr
		}
		id = parsed
		return nil
	})
	return id, err == nil
}

// Refresh replaces the cached manifest from a GET_COLLECTIONS_MANIFEST
// response body (spec.md §4.4). Stale entries from the previous
// manifest are dropped; the new manifest uid is recorded for callers
// that want to detect whether a refresh actually changed anything.
func (m *Manifest) Refresh(body []byte) error {
	var wm wireManifest
	if err := json.Unmarshal(body, &wm); err != nil {
		return cberr.Wrap(cberr.KindParsingFailure, err, "decode collections manifest")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.db.Update(func(tx *buntdb.Tx) error {
		if err := tx.DeleteAll(); err != nil {
			return err
		}
		for _, sc := range wm.Scopes {
			for _, col := range sc.Collections {
				var id uint32
				if _, err := fmt.Sscanf(col.UID, "%x", &id); err != nil {
					return cberr.Wrap(cberr.KindParsingFailure, err, fmt.Sprintf("parse collection id %q", col.UID))
				}
				if _, _, err := tx.Set(key(sc.Name, col.Name), idValue(id), nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.uid = wm.UID
	return nil
}

// Close releases the in-memory database.
func (m *Manifest) Close() error {
	return m.db.Close()
}

func key(scope, collection string) string {
	return scope + "\x00" + collection
}

func idValue(id uint32) string {
	return fmt.Sprintf("%d", id)
}
