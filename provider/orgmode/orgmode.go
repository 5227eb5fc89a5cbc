// Package orgmode is a reference SyncableProvider that scans a directory
// tree of Org-mode files and emits directory, file, and headline changes
// on three typed streams sharing one sync token (spec.md §4.4,
// supplemented feature — see SPEC_FULL.md).
//
// Grounded on original_source's holon-orgmode/orgmode_sync_provider.rs:
// one sync() call walks the tree, diffs against a persisted
// file-hash/known-directory state, and emits Created/Updated/Deleted on
// three tokio::broadcast channels carrying one shared BatchMetadata.
// Reworked into broadcast.Hub[T] streams and stdlib io/fs.WalkDir in
// place of the walkdir crate, matching the teacher's common/shell.go
// style of small, focused filesystem helper functions.
package orgmode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nightscape/holon/broadcast"
	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/holonerr"
	"github.com/nightscape/holon/holonlog"
	"github.com/nightscape/holon/operation"
	"github.com/nightscape/holon/provider"
	"github.com/nightscape/holon/value"
)

// RootID is the synthetic parent id for top-level directories and files,
// mirroring the original's ROOT_ID sentinel.
const RootID = "org-root"

// Directory is one directory under the scanned root.
type Directory struct {
	ID       string
	Name     string
	ParentID string
	Depth    int64
}

// File is one .org file's metadata.
type File struct {
	ID       string
	Name     string
	Path     string
	ParentID string
	Depth    int64
}

// Headline is one `* headline` section parsed out of a File.
type Headline struct {
	ID          string
	FileID      string
	ParentID    string
	Depth       int64
	Title       string
	TodoKeyword string
	Priority    int64
	Tags        string
}

const (
	DirectoriesRelation = "org_directories"
	FilesRelation       = "org_files"
	HeadlinesRelation   = "org_headlines"
)

// state is the provider's persisted diffing cursor, round-tripped through
// Position as JSON — the Go equivalent of the original's SyncState.
type state struct {
	FileHashes map[string]string `json:"file_hashes"`
	KnownDirs  map[string]bool   `json:"known_dirs"`
}

func newState() state {
	return state{FileHashes: map[string]string{}, KnownDirs: map[string]bool{}}
}

func loadState(pos provider.Position) (state, error) {
	if len(pos) == 0 {
		return newState(), nil
	}
	var s state
	if err := json.Unmarshal(pos, &s); err != nil {
		return state{}, holonerr.New(holonerr.KindExternal, err)
	}
	return s, nil
}

// Provider scans Root for Org-mode content on each Sync call.
type Provider struct {
	Root string

	directories *broadcast.Hub[Directory]
	files       *broadcast.Hub[File]
	headlines   *broadcast.Hub[Headline]
}

// New builds a Provider rooted at root.
func New(root string) *Provider {
	return &Provider{
		Root:        root,
		directories: broadcast.NewHub[Directory](1000),
		files:       broadcast.NewHub[File](1000),
		headlines:   broadcast.NewHub[Headline](1000),
	}
}

func (p *Provider) Directories() *broadcast.Hub[Directory] { return p.directories }
func (p *Provider) Files() *broadcast.Hub[File]            { return p.files }
func (p *Provider) Headlines() *broadcast.Hub[Headline]    { return p.headlines }

// Name satisfies provider.SyncableProvider.
func (p *Provider) Name() string { return "orgmode" }

// Sync walks Root once, diffs against current's encoded state, and
// publishes directory/file/headline changes on their respective streams,
// all three batches sharing one sync token.
func (p *Provider) Sync(ctx context.Context, current provider.Position) (provider.Position, error) {
	log := holonlog.For("provider.orgmode")

	old, err := loadState(current)
	if err != nil {
		return nil, err
	}

	next := newState()
	var dirChanges []change.Change[Directory]
	var fileChanges []change.Change[File]
	var headlineChanges []change.Change[Headline]
	seenDirs := map[string]bool{}
	seenFiles := map[string]bool{}

	origin := change.Origin{Kind: change.Remote}

	err = filepath.WalkDir(p.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == p.Root {
			return nil
		}
		rel, relErr := filepath.Rel(p.Root, path)
		if relErr != nil {
			return nil
		}
		parentID, depth := parentAndDepth(rel)

		if d.IsDir() {
			dirID := rel
			seenDirs[dirID] = true
			if !old.KnownDirs[dirID] {
				dirChanges = append(dirChanges, change.NewCreated(Directory{
					ID: dirID, Name: d.Name(), ParentID: parentID, Depth: depth,
				}, origin))
			}
			next.KnownDirs[dirID] = true
			return nil
		}

		if strings.ToLower(filepath.Ext(path)) != ".org" {
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			log.WithError(readErr).WithField("path", path).Warn("failed to read org file")
			return nil
		}
		fileID := fileID(rel)
		seenFiles[fileID] = true
		hash := contentHash(content)

		changed := old.FileHashes[fileID] != hash
		if changed {
			isNew := old.FileHashes[fileID] == ""
			f := File{ID: fileID, Name: d.Name(), Path: path, ParentID: parentID, Depth: depth}
			if isNew {
				fileChanges = append(fileChanges, change.NewCreated(f, origin))
			} else {
				fileChanges = append(fileChanges, change.NewUpdated(fileID, f, origin))
			}
			for _, h := range parseHeadlines(fileID, string(content)) {
				headlineChanges = append(headlineChanges, change.NewUpdated(h.ID, h, origin))
			}
		}
		next.FileHashes[fileID] = hash
		return nil
	})
	if err != nil {
		return nil, holonerr.New(holonerr.KindExternal, err)
	}

	for id := range old.KnownDirs {
		if !seenDirs[id] {
			dirChanges = append(dirChanges, change.NewDeleted[Directory](id, origin))
		}
	}
	for id := range old.FileHashes {
		if !seenFiles[id] {
			fileChanges = append(fileChanges, change.NewDeleted[File](id, origin))
		}
	}

	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, holonerr.New(holonerr.KindInternal, err)
	}
	newPosition := provider.Position(encoded)
	syncTok := &change.SyncToken{ProviderName: p.Name(), Position: newPosition}

	p.directories.Publish(change.Batch[Directory]{
		Metadata: change.Metadata{RelationName: DirectoriesRelation, SyncToken: syncTok},
		Changes:  dirChanges,
	})
	p.files.Publish(change.Batch[File]{
		Metadata: change.Metadata{RelationName: FilesRelation, SyncToken: syncTok},
		Changes:  fileChanges,
	})
	p.headlines.Publish(change.Batch[Headline]{
		Metadata: change.Metadata{RelationName: HeadlinesRelation, SyncToken: syncTok},
		Changes:  headlineChanges,
	})

	log.WithField("directories", len(dirChanges)).WithField("files", len(fileChanges)).
		WithField("headlines", len(headlineChanges)).Info("scan complete")

	return newPosition, nil
}

func parentAndDepth(rel string) (string, int64) {
	dir := filepath.Dir(rel)
	depth := int64(len(strings.Split(filepath.ToSlash(rel), "/")))
	if dir == "." {
		return RootID, depth
	}
	return dir, depth
}

func fileID(rel string) string {
	sum := sha256.Sum256([]byte(rel))
	return "org-file://" + hex.EncodeToString(sum[:8])
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

var headlineRE = regexp.MustCompile(`(?m)^(\*+)\s+(?:(TODO|DONE|NEXT|WAITING)\s+)?(?:\[#([ABC])\]\s+)?(.*?)(?:\s+(:[\w:]+:))?$`)

// parseHeadlines extracts `* Title` / `** TODO [#A] Title :tag:` lines.
// This is a reference-quality parser: it handles the common headline
// grammar but not org's full property-drawer/planning-line syntax.
func parseHeadlines(fileID, content string) []Headline {
	var out []Headline
	var stack []string // headline id at each depth, 1-indexed by depth-1

	matches := headlineRE.FindAllStringSubmatch(content, -1)
	for i, m := range matches {
		depth := int64(len(m[1]))
		todo := m[2]
		priority := priorityValue(m[3])
		title := strings.TrimSpace(m[4])
		tags := strings.Trim(m[5], ":")

		id := headlineIDFor(fileID, i)
		parentID := fileID
		if int(depth) > 1 && len(stack) >= int(depth)-1 {
			parentID = stack[depth-2]
		}
		for len(stack) < int(depth) {
			stack = append(stack, "")
		}
		stack = stack[:depth]
		stack[depth-1] = id

		out = append(out, Headline{
			ID: id, FileID: fileID, ParentID: parentID, Depth: depth,
			Title: title, TodoKeyword: todo, Priority: priority, Tags: tags,
		})
	}
	return out
}

func headlineIDFor(fileID string, index int) string {
	sum := sha256.Sum256([]byte(fileID + "#" + strings.Repeat("x", index)))
	return "org-headline://" + hex.EncodeToString(sum[:8])
}

func priorityValue(letter string) int64 {
	switch letter {
	case "A":
		return 3
	case "B":
		return 2
	case "C":
		return 1
	default:
		return 0
	}
}

// Operations satisfies provider.SyncableProvider.
func (p *Provider) Operations() operation.Provider { return &syncProvider{p} }

type syncProvider struct{ p *Provider }

func (s *syncProvider) Operations() []operation.Descriptor {
	return []operation.Descriptor{{
		EntityName:  provider.SyncEntityName(s.p.Name()),
		Name:        provider.SyncOperationName,
		DisplayName: "Scan Org-mode directory",
	}}
}

func (s *syncProvider) Execute(ctx context.Context, entity, name string, params map[string]value.Value) (operation.UndoAction, error) {
	if entity != provider.SyncEntityName(s.p.Name()) || name != provider.SyncOperationName {
		return operation.UndoAction{}, holonerr.New(holonerr.KindValidation, holonerr.ErrUnknownOperation).WithEntity(entity, name)
	}
	var current provider.Position
	if v, ok := params["position"]; ok && !v.IsNull() {
		current = provider.Position(v.MustString())
	}
	if _, err := s.p.Sync(ctx, current); err != nil {
		return operation.UndoAction{}, err
	}
	return operation.UndoAction{Kind: operation.Irreversible}, nil
}
