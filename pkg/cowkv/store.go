// Package cowkv is the store facade: the public open/get/insert/delete
// surface over the disk manager and the copy-on-write B+ tree engine.
package cowkv

import (
	"errors"
	"fmt"
	"io"

	"cowkv/pkg/diskmgr"
	"cowkv/pkg/engine"
	"cowkv/pkg/page"
)

// Config configures page geometry and size limits; see diskmgr.Config for
// field documentation and defaults.
type Config = diskmgr.Config

// DefaultConfig returns the documented defaults (spec.md §6).
func DefaultConfig() Config {
	return diskmgr.DefaultConfig()
}

// Errors returned by the facade.
var (
	// ErrKeyNotFound is returned by Get when the key is absent.
	ErrKeyNotFound = errors.New("cowkv: key not found")
	// ErrKeyTooLarge is returned by Insert when key exceeds Config.MaxKeySize.
	ErrKeyTooLarge = errors.New("cowkv: key exceeds configured maximum size")
	// ErrValueTooLarge is returned by Insert when value exceeds Config.MaxValSize.
	ErrValueTooLarge = errors.New("cowkv: value exceeds configured maximum size")
	// ErrClosed is returned by any operation on a closed Store.
	ErrClosed = errors.New("cowkv: store is closed")
	// ErrDatabaseLocked is diskmgr.ErrDatabaseLocked, re-exported so callers
	// do not need to import the internal package to check for it.
	ErrDatabaseLocked = diskmgr.ErrDatabaseLocked
)

// Store is an open, embedded copy-on-write B+ tree key-value store. It
// holds the currently committed root as both an offset and a decoded node,
// so callers don't pay a decode for the top of every traversal; after each
// mutation the facade reloads the decoded root from the new root offset.
type Store struct {
	dm  *diskmgr.Manager
	eng *engine.Engine
	cfg Config

	rootOffset uint64
	root       *page.Node

	closed bool
}

// Open opens or creates the database file at path with default
// configuration. If the file does not exist, it is created along with any
// missing parent directories.
func Open(path string) (*Store, error) {
	return OpenWithConfig(path, DefaultConfig())
}

// OpenWithConfig is Open with an explicit Config. cfg must match the
// configuration the file was originally created with; the file format does
// not embed it (spec.md §6).
func OpenWithConfig(path string, cfg Config) (*Store, error) {
	dm, err := diskmgr.Open(path, cfg)
	if err != nil {
		return nil, err
	}

	rootOffset, err := dm.ReadMetadata()
	if err != nil {
		dm.Close()
		return nil, err
	}
	root, err := dm.Load(rootOffset)
	if err != nil {
		dm.Close()
		return nil, err
	}

	return &Store{
		dm:         dm,
		eng:        engine.New(dm),
		cfg:        dm.Config(),
		rootOffset: rootOffset,
		root:       root,
	}, nil
}

// Close releases the file lock and closes the underlying database file.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.dm.Close()
}

// Get returns the value stored for key, or ErrKeyNotFound if it is absent.
// It descends the live cached root directly; it is not part of the
// copy-on-write path.
func (s *Store) Get(key []byte) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}

	node := s.root
	for !node.Leaf {
		pos := node.FindChildSlot(key)
		child, err := s.dm.Load(node.Children[pos])
		if err != nil {
			return nil, err
		}
		node = child
	}

	pos, hit := node.FindLeafSlot(key)
	if !hit {
		return nil, ErrKeyNotFound
	}
	value := node.Values[pos]
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Insert inserts key/value, or overwrites the value if key is already
// present. Size-limit violations are checked before any page write and
// leave the tree untouched (spec.md §7).
func (s *Store) Insert(key, value []byte) error {
	if s.closed {
		return ErrClosed
	}
	if uint32(len(key)) > s.cfg.MaxKeySize {
		return ErrKeyTooLarge
	}
	if uint32(len(value)) > s.cfg.MaxValSize {
		return ErrValueTooLarge
	}

	result, err := s.eng.Insert(s.rootOffset, key, value)
	if err != nil {
		return err
	}

	newRoot, err := s.commitInsert(result)
	if err != nil {
		return err
	}
	return s.commit(newRoot)
}

// commitInsert turns an engine.InsertResult into a root offset, building a
// new internal root over a split when needed (spec.md §4.3 "Root commit").
func (s *Store) commitInsert(result engine.InsertResult) (uint64, error) {
	if !result.Split {
		return result.Offset, nil
	}

	newRoot := page.NewInternal()
	newRoot.Keys = [][]byte{result.PromotedKey}
	newRoot.Children = []uint64{result.Left, result.Right}

	offset := s.dm.AllocateOffset()
	ok, err := s.dm.TryAppend(offset, newRoot)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("cowkv: new root with one key does not fit a page")
	}
	return offset, nil
}

// Delete removes key if present. Deleting an absent key is a no-op: no
// structural change and no error (spec.md §8 invariant 8).
func (s *Store) Delete(key []byte) error {
	if s.closed {
		return ErrClosed
	}

	result, err := s.eng.Delete(s.rootOffset, key)
	if err != nil {
		return err
	}
	if !result.Found {
		return nil
	}

	newRoot, err := s.collapseRoot(result.Offset)
	if err != nil {
		return err
	}
	return s.commit(newRoot)
}

// collapseRoot implements spec.md §4.4's root collapse: if the new root is
// an internal node left with a single child, that child becomes the root.
func (s *Store) collapseRoot(rootOffset uint64) (uint64, error) {
	root, err := s.dm.Load(rootOffset)
	if err != nil {
		return 0, err
	}
	if !root.Leaf && root.KeyCount() == 0 {
		return root.Children[0], nil
	}
	return rootOffset, nil
}

// commit writes the new root offset to the metadata page — the single
// atomic commit point for a mutation — and refreshes the cached root.
func (s *Store) commit(newRoot uint64) error {
	if err := s.dm.WriteMetadata(newRoot); err != nil {
		return err
	}
	root, err := s.dm.Load(newRoot)
	if err != nil {
		return err
	}
	s.rootOffset = newRoot
	s.root = root
	return nil
}

// Stats is a small read-only introspection surface, not part of the core
// operations but useful for diagnostics (supplemented from
// pkg/cowbtree.CowBTreeStats in the retrieved example pack; see
// SPEC_FULL.md §C).
type Stats struct {
	RootOffset uint64
	Height     int
	KeyCount   int
}

// Stats walks the current tree and reports simple size/shape counters.
func (s *Store) Stats() (Stats, error) {
	if s.closed {
		return Stats{}, ErrClosed
	}
	height := 1
	keyCount := 0
	node := s.root
	for {
		if node.Leaf {
			keyCount += node.KeyCount()
			break
		}
		height++
		child, err := s.dm.Load(node.Children[0])
		if err != nil {
			return Stats{}, err
		}
		node = child
	}
	// Count remaining leaves via a full traversal for an exact key count.
	total, err := s.countKeys(s.root)
	if err != nil {
		return Stats{}, err
	}
	return Stats{RootOffset: s.rootOffset, Height: height, KeyCount: total}, nil
}

// Dump writes every key/value pair in ascending key order to w, one pair
// per line as "key\tvalue". It is an inspection aid for the CLI, not a
// core operation.
func (s *Store) Dump(w io.Writer) error {
	if s.closed {
		return ErrClosed
	}
	return s.dump(w, s.root)
}

func (s *Store) dump(w io.Writer, n *page.Node) error {
	if n.Leaf {
		for i, key := range n.Keys {
			if _, err := fmt.Fprintf(w, "%s\t%s\n", key, n.Values[i]); err != nil {
				return err
			}
		}
		return nil
	}
	for _, childOffset := range n.Children {
		child, err := s.dm.Load(childOffset)
		if err != nil {
			return err
		}
		if err := s.dump(w, child); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) countKeys(n *page.Node) (int, error) {
	if n.Leaf {
		return n.KeyCount(), nil
	}
	total := 0
	for _, childOffset := range n.Children {
		child, err := s.dm.Load(childOffset)
		if err != nil {
			return 0, err
		}
		n, err := s.countKeys(child)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
