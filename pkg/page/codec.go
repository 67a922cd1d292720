package page

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNeedsSplit is the try-encode signal: the node's encoded form would
// overflow the page and must be split by the caller before it can be
// written.
var ErrNeedsSplit = errors.New("page: node needs split")

const (
	tagSize      = 1
	keyCountSize = 2
	childSize    = 8 // uint64 offset
	slotPtrSize  = 2
	lenFieldSize = 2 // each of key_len, val_len
)

// Encode renders n into a pageSize-byte page, or returns ErrNeedsSplit if it
// would not fit. It never writes a partial/oversized buffer on failure.
func Encode(n *Node, pageSize int) ([]byte, error) {
	nKeys := len(n.Keys)

	headerLen := tagSize + keyCountSize
	if !n.Leaf {
		headerLen += childSize * (nKeys + 1)
	}
	slotPtrTableLen := slotPtrSize * nKeys

	slotOffsets := make([]uint16, nKeys)
	cursor := headerLen + slotPtrTableLen
	for i := 0; i < nKeys; i++ {
		if cursor > 0xFFFF {
			return nil, ErrNeedsSplit
		}
		slotOffsets[i] = uint16(cursor)
		keyLen := len(n.Keys[i])
		valLen := 0
		if n.Leaf {
			valLen = len(n.Values[i])
		}
		cursor += lenFieldSize + lenFieldSize + keyLen + valLen
		if cursor > pageSize {
			return nil, ErrNeedsSplit
		}
	}
	if cursor > pageSize {
		return nil, ErrNeedsSplit
	}

	buf := make([]byte, pageSize)

	if n.Leaf {
		buf[0] = byte(KindLeaf)
	} else {
		buf[0] = byte(KindInternal)
	}
	binary.LittleEndian.PutUint16(buf[1:3], uint16(nKeys))

	off := tagSize + keyCountSize
	if !n.Leaf {
		for _, child := range n.Children {
			binary.LittleEndian.PutUint64(buf[off:], child)
			off += childSize
		}
	}
	for i := 0; i < nKeys; i++ {
		binary.LittleEndian.PutUint16(buf[off:], slotOffsets[i])
		off += slotPtrSize
	}

	for i := 0; i < nKeys; i++ {
		so := int(slotOffsets[i])
		key := n.Keys[i]
		var val []byte
		if n.Leaf {
			val = n.Values[i]
		}
		binary.LittleEndian.PutUint16(buf[so:], uint16(len(key)))
		binary.LittleEndian.PutUint16(buf[so+2:], uint16(len(val)))
		copy(buf[so+4:], key)
		copy(buf[so+4+len(key):], val)
	}

	return buf, nil
}

// EncodedSize returns the number of bytes n would occupy once encoded,
// independent of any page size bound. Used by the disk manager's underfull
// check, which compares actual encoded size against a minimum-fill
// threshold rather than the page capacity.
func EncodedSize(n *Node) int {
	nKeys := len(n.Keys)
	size := tagSize + keyCountSize
	if !n.Leaf {
		size += childSize * (nKeys + 1)
	}
	size += slotPtrSize * nKeys
	for i := 0; i < nKeys; i++ {
		keyLen := len(n.Keys[i])
		valLen := 0
		if n.Leaf {
			valLen = len(n.Values[i])
		}
		size += lenFieldSize + lenFieldSize + keyLen + valLen
	}
	return size
}

// Decode parses a pageSize-byte page back into a Node. It returns an error
// describing the first inconsistency found rather than panicking on a
// corrupt or truncated page.
func Decode(buf []byte) (*Node, error) {
	if len(buf) < tagSize+keyCountSize {
		return nil, fmt.Errorf("page: buffer too short (%d bytes)", len(buf))
	}

	kind := Kind(buf[0])
	if kind != KindInternal && kind != KindLeaf {
		return nil, fmt.Errorf("page: invalid kind tag %d", buf[0])
	}
	leaf := kind == KindLeaf

	nKeys := int(binary.LittleEndian.Uint16(buf[1:3]))

	off := tagSize + keyCountSize
	n := &Node{Leaf: leaf}

	if !leaf {
		nChildren := nKeys + 1
		end := off + nChildren*childSize
		if end > len(buf) {
			return nil, fmt.Errorf("page: child array (n=%d) exceeds page bounds", nKeys)
		}
		n.Children = make([]uint64, nChildren)
		for i := 0; i < nChildren; i++ {
			n.Children[i] = binary.LittleEndian.Uint64(buf[off:])
			off += childSize
		}
	}

	slotTableEnd := off + nKeys*slotPtrSize
	if slotTableEnd > len(buf) {
		return nil, fmt.Errorf("page: slot offset table (n=%d) exceeds page bounds", nKeys)
	}
	slotOffsets := make([]uint16, nKeys)
	for i := 0; i < nKeys; i++ {
		slotOffsets[i] = binary.LittleEndian.Uint16(buf[off:])
		off += slotPtrSize
	}

	n.Keys = make([][]byte, nKeys)
	if leaf {
		n.Values = make([][]byte, nKeys)
	}
	for i := 0; i < nKeys; i++ {
		so := int(slotOffsets[i])
		if so < 0 || so+lenFieldSize*2 > len(buf) {
			return nil, fmt.Errorf("page: slot %d offset %d out of bounds", i, so)
		}
		keyLen := int(binary.LittleEndian.Uint16(buf[so:]))
		valLen := int(binary.LittleEndian.Uint16(buf[so+2:]))
		start := so + lenFieldSize*2
		if start+keyLen+valLen > len(buf) {
			return nil, fmt.Errorf("page: slot %d data (key=%d val=%d) exceeds page bounds", i, keyLen, valLen)
		}
		key := make([]byte, keyLen)
		copy(key, buf[start:start+keyLen])
		n.Keys[i] = key

		if leaf {
			val := make([]byte, valLen)
			copy(val, buf[start+keyLen:start+keyLen+valLen])
			n.Values[i] = val
		}
	}

	return n, nil
}
