package vectorstore

import (
	"encoding/json"
	"os"
)

// docStat records what the manifest knows about one stored document.
type docStat struct {
	Chunks int   `json:"chunks"`
	Bytes  int64 `json:"bytes"`
}

// manifest is the sidecar bookkeeping file for the chromem backend.
// It maps scope -> document ID -> stats and is rewritten atomically on
// every mutation. Callers must hold the owning store's mutex.
type manifest struct {
	path   string
	Scopes map[string]map[string]docStat `json:"scopes"`
}

func loadManifest(path string) (*manifest, error) {
	m := &manifest{
		path:   path,
		Scopes: make(map[string]map[string]docStat),
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, m); err != nil {
		// A corrupt manifest only degrades stats; start fresh rather
		// than refusing to serve searches.
		m.Scopes = make(map[string]map[string]docStat)
	}
	return m, nil
}

func (m *manifest) set(scope, documentID string, stat docStat) {
	docs := m.Scopes[scope]
	if docs == nil {
		docs = make(map[string]docStat)
		m.Scopes[scope] = docs
	}
	docs[documentID] = stat
}

func (m *manifest) remove(scope, documentID string) {
	if docs := m.Scopes[scope]; docs != nil {
		delete(docs, documentID)
		if len(docs) == 0 {
			delete(m.Scopes, scope)
		}
	}
}

func (m *manifest) removeScope(scope string) {
	delete(m.Scopes, scope)
}

func (m *manifest) scopeTotals(scope string) (documents int, bytes int64) {
	for _, stat := range m.Scopes[scope] {
		documents++
		bytes += stat.Bytes
	}
	return documents, bytes
}

func (m *manifest) save() error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
