package diskmgr

import (
	"errors"
	"path/filepath"
	"testing"

	"cowkv/pkg/page"
)

func openTest(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	m, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestOpenInitializesEmptyRoot(t *testing.T) {
	m := openTest(t)

	rootOffset, err := m.ReadMetadata()
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if rootOffset != uint64(m.cfg.FirstPageOffset) {
		t.Fatalf("root offset = %d, want %d", rootOffset, m.cfg.FirstPageOffset)
	}

	root, err := m.Load(rootOffset)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !root.Leaf || root.KeyCount() != 0 {
		t.Fatalf("initial root = %+v, want empty leaf", root)
	}
}

func TestTryAppendAndLoadRoundTrip(t *testing.T) {
	m := openTest(t)

	n := page.NewLeaf()
	n.Keys = [][]byte{[]byte("k")}
	n.Values = [][]byte{[]byte("v")}

	offset := m.AllocateOffset()
	ok, err := m.TryAppend(offset, n)
	if err != nil {
		t.Fatalf("TryAppend: %v", err)
	}
	if !ok {
		t.Fatal("TryAppend returned false for a page that fits")
	}

	got, err := m.Load(offset)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.KeyCount() != 1 || string(got.Keys[0]) != "k" || string(got.Values[0]) != "v" {
		t.Fatalf("Load returned %+v", got)
	}
}

func TestTryAppendOversizedNodeNeedsSplit(t *testing.T) {
	m := openTest(t)

	n := page.NewLeaf()
	big := make([]byte, 3000)
	for i := 0; i < 5; i++ {
		n.Keys = append(n.Keys, []byte{byte(i)})
		n.Values = append(n.Values, big)
	}

	offset := m.AllocateOffset()
	ok, err := m.TryAppend(offset, n)
	if err != nil {
		t.Fatalf("TryAppend: %v", err)
	}
	if ok {
		t.Fatal("TryAppend should report false for an oversized node")
	}
}

func TestDurabilityAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	m, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n := page.NewLeaf()
	n.Keys = [][]byte{[]byte("persisted")}
	n.Values = [][]byte{[]byte("value")}
	offset := m.AllocateOffset()
	if ok, err := m.TryAppend(offset, n); err != nil || !ok {
		t.Fatalf("TryAppend: ok=%v err=%v", ok, err)
	}
	if err := m.WriteMetadata(offset); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	rootOffset, err := reopened.ReadMetadata()
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if rootOffset != offset {
		t.Fatalf("rootOffset after reopen = %d, want %d", rootOffset, offset)
	}
	got, err := reopened.Load(rootOffset)
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if string(got.Keys[0]) != "persisted" {
		t.Fatalf("Keys[0] after reopen = %q, want persisted", got.Keys[0])
	}
}

func TestOpenSecondInstanceIsLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.db")

	first, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer first.Close()

	_, err = Open(path, Config{})
	if !errors.Is(err, ErrDatabaseLocked) {
		t.Fatalf("second Open err = %v, want ErrDatabaseLocked", err)
	}
}

func TestUnderfullThreshold(t *testing.T) {
	m := openTest(t)

	empty := page.NewLeaf()
	if !m.Underfull(empty) {
		t.Fatal("an empty leaf should be underfull")
	}

	full := page.NewLeaf()
	big := make([]byte, 1000)
	for i := 0; i < 4; i++ {
		full.Keys = append(full.Keys, []byte{byte(i)})
		full.Values = append(full.Values, big)
	}
	if m.Underfull(full) {
		t.Fatal("a well-filled leaf should not be underfull")
	}
}
