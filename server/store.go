package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Datasets is the total container for all whitelist data.
//   - Blacklist holds known bad words to raise a flag for.
//   - CustomOld is a large, semi-sorted set of every unique word from the
//     first year of operation; may contain abusable words.
//   - Custom receives newly approved words during operation.
//   - Dictionary is the cleaned English dictionary.
//   - Nicknames maps username -> desired username; NicknamesSet is the union
//     of its keys and values, derived at load and never persisted.
//   - RandomPrefixes/RandomSuffixes assemble temporary safe usernames.
//   - SortedDatasets is every file in the sorted_datasets folder combined.
//   - TrustedUsernames are pre-whitelist-era users who were never banned.
//   - Usernames receives newly approved usernames during operation.
//
// Only Custom and Usernames are mutated after startup, and only through
// AddWord/AddUsername.
type Datasets struct {
	Blacklist        map[string]struct{}
	Custom           map[string]struct{}
	CustomOld        map[string]struct{}
	Dictionary       map[string]struct{}
	Nicknames        map[string]string
	NicknamesSet     map[string]struct{}
	RandomPrefixes   map[string]struct{}
	RandomSuffixes   map[string]struct{}
	SortedDatasets   map[string]struct{}
	TrustedUsernames map[string]struct{}
	Usernames        map[string]struct{}
	Version          int
}

type Store struct {
	data    Datasets
	mu      sync.Mutex
	dataDir string
}

func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

// initFilesIfMissing creates every absent source file with its empty default.
// Present files are never touched here, so a malformed file still fails Load.
func (s *Store) initFilesIfMissing() error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(s.path("sorted_datasets"), 0755); err != nil {
		return err
	}

	defaults := map[string]string{
		"blacklist.json":         "[]",
		"custom_old.json":        "[]",
		"custom.json":            "[]",
		"dictionary.json":        "[]",
		"nicknames.json":         "{}",
		"random_prefixes.json":   "[]",
		"random_suffixes.json":   "[]",
		"trusted_usernames.json": "[]",
		"usernames.json":         "[]",
		"version.json":           `{"version": 1}`,
	}
	for name, value := range defaults {
		path := s.path(name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			log.Printf("[Store] Initializing file '%s'", path)
			if err := os.WriteFile(path, []byte(value), 0644); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) loadSet(name string) (map[string]struct{}, error) {
	path := s.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s malformed or missing: %w", path, err)
	}
	var words []string
	if err := json.Unmarshal(data, &words); err != nil {
		return nil, fmt.Errorf("%s malformed or missing: %w", path, err)
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set, nil
}

// Load reads every dataset source from disk. Any malformed source is a fatal
// startup condition and surfaces as an error naming the offending path.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initFilesIfMissing(); err != nil {
		return err
	}

	var d Datasets
	var err error
	if d.Blacklist, err = s.loadSet("blacklist.json"); err != nil {
		return err
	}
	if d.CustomOld, err = s.loadSet("custom_old.json"); err != nil {
		return err
	}
	if d.Custom, err = s.loadSet("custom.json"); err != nil {
		return err
	}
	if d.Dictionary, err = s.loadSet("dictionary.json"); err != nil {
		return err
	}
	if d.RandomPrefixes, err = s.loadSet("random_prefixes.json"); err != nil {
		return err
	}
	if d.RandomSuffixes, err = s.loadSet("random_suffixes.json"); err != nil {
		return err
	}
	if d.TrustedUsernames, err = s.loadSet("trusted_usernames.json"); err != nil {
		return err
	}
	if d.Usernames, err = s.loadSet("usernames.json"); err != nil {
		return err
	}

	// Assemble every file in the sorted_datasets folder into one set
	d.SortedDatasets = make(map[string]struct{})
	files, err := filepath.Glob(filepath.Join(s.path("sorted_datasets"), "*.json"))
	if err != nil {
		return err
	}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("%s malformed or missing: %w", file, err)
		}
		var words []string
		if err := json.Unmarshal(data, &words); err != nil {
			return fmt.Errorf("%s malformed or missing: %w", file, err)
		}
		for _, w := range words {
			d.SortedDatasets[w] = struct{}{}
		}
	}

	// Load nicknames and derive the key+value set
	nickPath := s.path("nicknames.json")
	nickData, err := os.ReadFile(nickPath)
	if err != nil {
		return fmt.Errorf("%s malformed or missing: %w", nickPath, err)
	}
	if err := json.Unmarshal(nickData, &d.Nicknames); err != nil {
		return fmt.Errorf("%s malformed or missing: %w", nickPath, err)
	}
	d.NicknamesSet = make(map[string]struct{}, len(d.Nicknames)*2)
	for key, value := range d.Nicknames {
		d.NicknamesSet[key] = struct{}{}
		d.NicknamesSet[value] = struct{}{}
	}

	versionPath := s.path("version.json")
	versionData, err := os.ReadFile(versionPath)
	if err != nil {
		return fmt.Errorf("%s malformed or missing: %w", versionPath, err)
	}
	var v struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(versionData, &v); err != nil {
		return fmt.Errorf("%s malformed or missing: %w", versionPath, err)
	}
	d.Version = v.Version

	s.data = d
	return nil
}

// AddWord appends an approved word to the custom set and persists it.
func (s *Store) AddWord(word string) (int, error) {
	return s.mutateAndPersist(word, false)
}

// AddUsername appends an approved username to the usernames set and persists it.
func (s *Store) AddUsername(name string) (int, error) {
	return s.mutateAndPersist(name, true)
}

// mutateAndPersist is the single write transaction: add the word, bump the
// version, write the set file, then the version file. The version file is
// written last so it is the source of truth for "is this the current
// version" after a crash between the two writes. Any write failure rolls
// back the in-memory state and returns an error; the version must never
// advance without completed persistence.
func (s *Store) mutateAndPersist(word string, isUsername bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.data.Custom
	file := "custom.json"
	if isUsername {
		set = s.data.Usernames
		file = "usernames.json"
	}

	_, existed := set[word]
	set[word] = struct{}{}
	s.data.Version++

	rollback := func() {
		if !existed {
			delete(set, word)
		}
		s.data.Version--
	}

	if err := s.writeSet(file, set); err != nil {
		rollback()
		return 0, err
	}
	if err := s.writeVersion(); err != nil {
		rollback()
		return 0, err
	}
	return s.data.Version, nil
}

// writeSet persists a set as a sorted, indented array so the files stay
// reviewable and diffable by hand.
func (s *Store) writeSet(name string, set map[string]struct{}) error {
	words := make([]string, 0, len(set))
	for w := range set {
		words = append(words, w)
	}
	sort.Strings(words)

	data, err := json.MarshalIndent(words, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(name), data, 0644)
}

func (s *Store) writeVersion() error {
	data, err := json.Marshal(map[string]int{"version": s.data.Version})
	if err != nil {
		return err
	}
	return os.WriteFile(s.path("version.json"), data, 0644)
}

func (s *Store) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Version
}

// HasWord reports membership in the custom set.
func (s *Store) HasWord(word string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.Custom[word]
	return ok
}

// HasUsername reports membership in the usernames set.
func (s *Store) HasUsername(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.Usernames[name]
	return ok
}

// Nickname looks up the desired username mapped to a username.
func (s *Store) Nickname(username string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nick, ok := s.data.Nicknames[username]
	return nick, ok
}

// InNicknames reports membership in the derived nicknames set.
func (s *Store) InNicknames(word string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.NicknamesSet[word]
	return ok
}
