// Package diskmgr owns the database file: the metadata page, whole-page
// reads and writes keyed by absolute offset, append allocation, and the
// advisory file lock that keeps the file owned by a single open store
// instance.
package diskmgr

// Config configures page geometry and size limits. It is fixed at Open time
// and must match the configuration the file was created with — the file
// format itself does not embed these values, so a mismatched reopen is the
// caller's responsibility.
type Config struct {
	// PageSize is the size in bytes of every page, including the metadata
	// page. Default 4096.
	PageSize uint32
	// MaxKeySize rejects inserts with a longer key. Default 1000.
	MaxKeySize uint32
	// MaxValSize rejects inserts with a longer value. Default 3000.
	MaxValSize uint32
	// MetadataOffset is the byte offset of the metadata page. Default 0.
	MetadataOffset uint64
	// FirstPageOffset is the byte offset of the initial root page. Default
	// equal to PageSize.
	FirstPageOffset uint64
	// MinNodeSize is the underfull threshold used by delete. Default
	// PageSize/4.
	MinNodeSize uint32
}

// DefaultConfig returns the documented defaults from spec.md §6.
func DefaultConfig() Config {
	const pageSize = 4096
	return Config{
		PageSize:        pageSize,
		MaxKeySize:      1000,
		MaxValSize:      3000,
		MetadataOffset:  0,
		FirstPageOffset: pageSize,
		MinNodeSize:     pageSize / 4,
	}
}

func (c *Config) applyDefaults() {
	if c.PageSize == 0 {
		c.PageSize = 4096
	}
	if c.MaxKeySize == 0 {
		c.MaxKeySize = 1000
	}
	if c.MaxValSize == 0 {
		c.MaxValSize = 3000
	}
	if c.FirstPageOffset == 0 {
		c.FirstPageOffset = uint64(c.PageSize)
	}
	if c.MinNodeSize == 0 {
		c.MinNodeSize = c.PageSize / 4
	}
}
