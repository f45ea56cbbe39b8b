package search

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	gosync "sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/maruel/natural"
	"github.com/samber/lo"
	"golang.org/x/text/unicode/norm"
)

// maxContentTokens caps how many snippet tokens contribute keywords.
const maxContentTokens = 100

// IndexStats summarizes the keyword index.
type IndexStats struct {
	TotalFiles    int       `json:"totalFiles"`
	TotalKeywords int       `json:"totalKeywords"`
	Searches      int64     `json:"searches"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// KeywordEntry is one flattened keyword → ids pair of an exported index.
type KeywordEntry struct {
	Keyword string `json:"keyword"`
	IDs     []int  `json:"ids"`
}

// IndexSnapshot is the serializable form of a KeywordIndex.
type IndexSnapshot struct {
	Files    []IndexedFile  `json:"files"`
	Keywords []KeywordEntry `json:"keywords"`
	NextID   int            `json:"nextId"`
	Stats    IndexStats     `json:"stats"`
}

// KeywordIndex is an inverted index from lowercase keyword to file IDs.
// A keyword entry exists only while its ID set is non-empty.
type KeywordIndex struct {
	mu          gosync.RWMutex
	files       map[int]*IndexedFile
	keywords    map[string]map[int]struct{}
	nextID      int
	lastUpdated time.Time
	searches    atomic.Int64
}

// NewKeywordIndex creates an empty index. IDs start at 1.
func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{
		files:    make(map[int]*IndexedFile),
		keywords: make(map[string]map[int]struct{}),
		nextID:   1,
	}
}

// tokenize lowercases s and splits it on every rune that is neither a letter
// nor a digit.
func tokenize(s string) []string {
	s = norm.NFC.String(strings.ToLower(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// keywordsOf derives the keyword set of a record. Deterministic: RemoveFile
// relies on getting the same set back.
func keywordsOf(f *IndexedFile) map[string]struct{} {
	set := make(map[string]struct{})
	add := func(tokens []string) {
		for _, t := range tokens {
			set[t] = struct{}{}
		}
	}
	add(tokenize(f.Name))
	if ext := extOf(f.Name); ext != "" {
		add(tokenize(ext))
	}
	if f.Type != "" {
		set[string(f.Type)] = struct{}{}
	}
	for _, seg := range strings.Split(ParentDir(f.Path), "/") {
		add(tokenize(seg))
	}
	add(f.ContentTokens)
	return set
}

// AddFile indexes a file and returns its new ID. Adding the same path twice
// creates two independent records.
func (idx *KeywordIndex) AddFile(path string, meta FileMetadata) int {
	path = CleanPath(path)
	name := meta.Name
	if name == "" {
		name = BaseName(path)
	}
	ftype := meta.Type
	if ftype == "" {
		ftype = ClassifyType(name, false)
	}
	var content []string
	if meta.Snippet != "" {
		content = tokenize(meta.Snippet)
		if len(content) > maxContentTokens {
			content = content[:maxContentTokens]
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	id := idx.nextID
	idx.nextID++
	f := &IndexedFile{
		ID:            id,
		Path:          path,
		Name:          name,
		Size:          meta.Size,
		Modified:      meta.Modified,
		Type:          ftype,
		ContentTokens: content,
	}
	idx.files[id] = f
	kws := keywordsOf(f)
	idx.insertLocked(id, kws)
	idx.lastUpdated = nowFunc()

	if logEnabled(slog.LevelDebug) {
		sub("index").Debug("file added", "id", id, "path", path, "keywords", len(kws))
	}
	return id
}

func (idx *KeywordIndex) insertLocked(id int, kws map[string]struct{}) {
	for kw := range kws {
		ids, ok := idx.keywords[kw]
		if !ok {
			ids = make(map[int]struct{})
			idx.keywords[kw] = ids
		}
		ids[id] = struct{}{}
	}
}

// RemoveFile unindexes a file. Returns false when the ID is unknown.
func (idx *KeywordIndex) RemoveFile(id int) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	f, ok := idx.files[id]
	if !ok {
		return false
	}
	for kw := range keywordsOf(f) {
		ids, ok := idx.keywords[kw]
		if !ok {
			continue
		}
		delete(ids, id)
		if len(ids) == 0 {
			delete(idx.keywords, kw)
		}
	}
	delete(idx.files, id)
	idx.lastUpdated = nowFunc()

	if logEnabled(slog.LevelDebug) {
		sub("index").Debug("file removed", "id", id, "path", f.Path)
	}
	return true
}

// Search returns files matching every query token (AND). A token matches any
// indexed keyword that contains it. Results pass through ApplyFilters.
func (idx *KeywordIndex) Search(query string, opts SearchOptions) []IndexedFile {
	idx.searches.Add(1)
	terms := lo.Uniq(tokenize(query))
	if len(terms) == 0 {
		return nil
	}

	idx.mu.RLock()
	var running map[int]struct{}
	for i, term := range terms {
		matched := make(map[int]struct{})
		for kw, ids := range idx.keywords {
			if !strings.Contains(kw, term) {
				continue
			}
			for id := range ids {
				matched[id] = struct{}{}
			}
		}
		if i == 0 {
			running = matched
		} else {
			for id := range running {
				if _, ok := matched[id]; !ok {
					delete(running, id)
				}
			}
		}
		if len(running) == 0 {
			break
		}
	}

	files := make([]IndexedFile, 0, len(running))
	for id := range running {
		if f, ok := idx.files[id]; ok {
			files = append(files, *f)
		}
	}
	idx.mu.RUnlock()

	results := ApplyFilters(files, opts)
	if logEnabled(slog.LevelDebug) {
		sub("index").Debug("search", "query", query, "terms", len(terms), "matched", len(files), "returned", len(results))
	}
	return results
}

// ApplyFilters applies the conjunctive option predicates, sorts by modified
// time descending and truncates to opts.Limit.
func ApplyFilters(files []IndexedFile, opts SearchOptions) []IndexedFile {
	var types map[string]struct{}
	if len(opts.FileTypes) > 0 {
		types = make(map[string]struct{}, len(opts.FileTypes))
		for _, t := range opts.FileTypes {
			types[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "."))] = struct{}{}
		}
	}
	dir := NormalizePath(opts.Directory)

	out := lo.Filter(files, func(f IndexedFile, _ int) bool {
		if types != nil {
			if _, ok := types[extOf(f.Name)]; !ok {
				return false
			}
		}
		if opts.MinSize > 0 && f.Size < opts.MinSize {
			return false
		}
		if opts.MaxSize > 0 && f.Size > opts.MaxSize {
			return false
		}
		if !opts.ModifiedAfter.IsZero() && f.Modified.Before(opts.ModifiedAfter) {
			return false
		}
		if !opts.ModifiedBefore.IsZero() && f.Modified.After(opts.ModifiedBefore) {
			return false
		}
		if dir != "" && !HasPathPrefix(NormalizePath(f.Path), dir) {
			return false
		}
		return true
	})

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Modified.Equal(out[j].Modified) {
			return out[i].Modified.After(out[j].Modified)
		}
		return natural.Less(out[i].Path, out[j].Path)
	})

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// FindByPath returns the IDs of every record whose path normalizes to the
// same key as path. Linear scan; there is no secondary path index.
func (idx *KeywordIndex) FindByPath(path string) []int {
	key := NormalizePath(path)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var ids []int
	for id, f := range idx.files {
		if NormalizePath(f.Path) == key {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// FindUnder returns the IDs of every record at or below prefix.
func (idx *KeywordIndex) FindUnder(prefix string) []int {
	key := NormalizePath(prefix)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var ids []int
	for id, f := range idx.files {
		if HasPathPrefix(NormalizePath(f.Path), key) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Get returns a copy of the record with the given ID.
func (idx *KeywordIndex) Get(id int) (IndexedFile, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	f, ok := idx.files[id]
	if !ok {
		return IndexedFile{}, false
	}
	return *f, true
}

// Len returns the number of indexed files.
func (idx *KeywordIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.files)
}

// KeywordCount returns the number of distinct keywords.
func (idx *KeywordIndex) KeywordCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.keywords)
}

// NextID returns the ID the next AddFile will assign.
func (idx *KeywordIndex) NextID() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.nextID
}

// Stats returns a snapshot of the index counters.
func (idx *KeywordIndex) Stats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.statsLocked()
}

func (idx *KeywordIndex) statsLocked() IndexStats {
	return IndexStats{
		TotalFiles:    len(idx.files),
		TotalKeywords: len(idx.keywords),
		Searches:      idx.searches.Load(),
		LastUpdated:   idx.lastUpdated,
	}
}

// Clear empties the index. The ID counter keeps running so IDs handed out
// before the clear are never reassigned.
func (idx *KeywordIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.files = make(map[int]*IndexedFile)
	idx.keywords = make(map[string]map[int]struct{})
	idx.lastUpdated = time.Time{}
	idx.searches.Store(0)
}

// Export returns the full index in flattened, deterministic form.
func (idx *KeywordIndex) Export() IndexSnapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	snap := IndexSnapshot{
		Files:    make([]IndexedFile, 0, len(idx.files)),
		Keywords: make([]KeywordEntry, 0, len(idx.keywords)),
		NextID:   idx.nextID,
		Stats:    idx.statsLocked(),
	}
	for _, f := range idx.files {
		snap.Files = append(snap.Files, *f)
	}
	sort.Slice(snap.Files, func(i, j int) bool { return snap.Files[i].ID < snap.Files[j].ID })

	for kw, ids := range idx.keywords {
		list := lo.Keys(ids)
		slices.Sort(list)
		snap.Keywords = append(snap.Keywords, KeywordEntry{Keyword: kw, IDs: list})
	}
	sort.Slice(snap.Keywords, func(i, j int) bool { return snap.Keywords[i].Keyword < snap.Keywords[j].Keyword })
	return snap
}

// Import replaces the index with snap. The current content is cleared first.
// A snapshot without keyword entries gets its keywords rebuilt from the files.
func (idx *KeywordIndex) Import(snap IndexSnapshot) error {
	files := make(map[int]*IndexedFile, len(snap.Files))
	maxID := 0
	for i := range snap.Files {
		f := snap.Files[i]
		if f.ID <= 0 {
			return fmt.Errorf("import index: invalid file id %d", f.ID)
		}
		if _, dup := files[f.ID]; dup {
			return fmt.Errorf("import index: duplicate file id %d", f.ID)
		}
		files[f.ID] = &f
		maxID = max(maxID, f.ID)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.files = files
	idx.keywords = make(map[string]map[int]struct{})
	if len(snap.Keywords) == 0 {
		for id, f := range files {
			idx.insertLocked(id, keywordsOf(f))
		}
	} else {
		for _, e := range snap.Keywords {
			for _, id := range e.IDs {
				if _, ok := files[id]; !ok {
					continue
				}
				idx.insertLocked(id, map[string]struct{}{e.Keyword: {}})
			}
		}
	}
	idx.nextID = max(snap.NextID, maxID+1)
	idx.lastUpdated = snap.Stats.LastUpdated
	idx.searches.Store(snap.Stats.Searches)

	sub("index").Info("index imported", "files", len(idx.files), "keywords", len(idx.keywords), "nextId", idx.nextID)
	return nil
}
