package diskmgr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cowkv/pkg/page"
)

// Errors surfaced by the disk manager.
var (
	// ErrDatabaseLocked is returned when another process or instance
	// already holds the advisory exclusive lock on the database file.
	ErrDatabaseLocked = errors.New("diskmgr: database file is locked by another instance")
)

// CorruptPageError reports a page whose decoded contents are internally
// inconsistent (a key count, offset, or length that does not fit the page).
// It is fatal to the operation in progress; the caller must reopen.
type CorruptPageError struct {
	Offset uint64
	Reason string
}

func (e *CorruptPageError) Error() string {
	return fmt.Sprintf("diskmgr: corrupt page at offset %d: %s", e.Offset, e.Reason)
}

// Manager owns the database file handle and the page-size budget. All page
// I/O goes through here: whole-page reads and writes at absolute offsets,
// the metadata page, and append-only offset allocation.
type Manager struct {
	file *os.File
	cfg  Config

	// nextOffset is the next offset AllocateOffset will hand out. It is
	// derived from the file's length at Open and advanced in memory as
	// pages are allocated; it is never itself persisted, matching the
	// "no explicit free list" design (spec.md §9) — after a crash and
	// reopen it is recomputed from the file's actual length.
	nextOffset uint64
}

// Open opens or creates the database file at path. If the file is empty
// (freshly created), it writes a metadata page pointing at an initial empty
// leaf root, then writes that leaf. Open takes an advisory exclusive lock
// on the file; a second Open of the same path fails with ErrDatabaseLocked
// rather than silently sharing the file (spec.md §5: "owned exclusively by
// one open store instance").
func Open(path string, cfg Config) (*Manager, error) {
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("diskmgr: create parent directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskmgr: open %s: %w", path, err)
	}

	if err := lockFile(f, path); err != nil {
		f.Close()
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("diskmgr: stat %s: %w", path, err)
	}

	m := &Manager{file: f, cfg: cfg}

	if info.Size() == 0 {
		if err := m.initializeEmpty(); err != nil {
			unlockFile(f)
			f.Close()
			return nil, err
		}
	} else {
		m.nextOffset = uint64(info.Size())
	}

	return m, nil
}

func (m *Manager) initializeEmpty() error {
	root := NewEmptyLeaf()
	buf, err := page.Encode(root, int(m.cfg.PageSize))
	if err != nil {
		return fmt.Errorf("diskmgr: encode initial root: %w", err)
	}
	if _, err := m.file.WriteAt(buf, int64(m.cfg.FirstPageOffset)); err != nil {
		return fmt.Errorf("diskmgr: write initial root: %w", err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("diskmgr: flush initial root: %w", err)
	}
	m.nextOffset = m.cfg.FirstPageOffset + uint64(m.cfg.PageSize)

	return m.WriteMetadata(m.cfg.FirstPageOffset)
}

// NewEmptyLeaf returns the node written as the root of a freshly created
// database.
func NewEmptyLeaf() *page.Node {
	return page.NewLeaf()
}

// Config returns the manager's page configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Close releases the file lock and closes the underlying file handle.
func (m *Manager) Close() error {
	unlockFile(m.file)
	return m.file.Close()
}

// ReadMetadata reads the current root offset from the metadata page.
func (m *Manager) ReadMetadata() (uint64, error) {
	buf := make([]byte, 8)
	if _, err := m.file.ReadAt(buf, int64(m.cfg.MetadataOffset)); err != nil {
		return 0, fmt.Errorf("diskmgr: read metadata: %w", err)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// WriteMetadata durably writes a full page-sized metadata page whose first
// 8 bytes hold rootOffset; this is the single atomic commit point for a
// mutation (spec.md §4.3/§4.4/§9).
func (m *Manager) WriteMetadata(rootOffset uint64) error {
	buf := make([]byte, m.cfg.PageSize)
	binary.LittleEndian.PutUint64(buf[:8], rootOffset)
	if _, err := m.file.WriteAt(buf, int64(m.cfg.MetadataOffset)); err != nil {
		return fmt.Errorf("diskmgr: write metadata: %w", err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("diskmgr: flush metadata: %w", err)
	}
	return nil
}

// Load reads and decodes the node at offset.
func (m *Manager) Load(offset uint64) (*page.Node, error) {
	buf := make([]byte, m.cfg.PageSize)
	if _, err := m.file.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("diskmgr: read page at %d: %w", offset, err)
	}
	n, err := page.Decode(buf)
	if err != nil {
		return nil, &CorruptPageError{Offset: offset, Reason: err.Error()}
	}
	return n, nil
}

// AllocateOffset returns the next append-only offset, reserving it for the
// caller. The caller is responsible for then writing PageSize bytes there
// (normally via TryAppend).
func (m *Manager) AllocateOffset() uint64 {
	off := m.nextOffset
	m.nextOffset += uint64(m.cfg.PageSize)
	return off
}

// TryAppend attempts to encode n and write it at offset. If n would not fit
// in a page it returns (false, nil) and writes nothing — the caller must
// split. On success the page is written and durably flushed before
// TryAppend returns.
func (m *Manager) TryAppend(offset uint64, n *page.Node) (bool, error) {
	buf, err := page.Encode(n, int(m.cfg.PageSize))
	if err != nil {
		if errors.Is(err, page.ErrNeedsSplit) {
			return false, nil
		}
		return false, fmt.Errorf("diskmgr: encode page: %w", err)
	}
	if _, err := m.file.WriteAt(buf, int64(offset)); err != nil {
		return false, fmt.Errorf("diskmgr: write page at %d: %w", offset, err)
	}
	if err := m.file.Sync(); err != nil {
		return false, fmt.Errorf("diskmgr: flush page at %d: %w", offset, err)
	}
	return true, nil
}

// Underfull reports whether n's encoded size falls below the configured
// minimum fill threshold.
func (m *Manager) Underfull(n *page.Node) bool {
	return page.EncodedSize(n) < int(m.cfg.MinNodeSize)
}
