package page

// The engine resolves an underfull child by borrowing from a sibling with
// more than the minimum, or merging with a sibling at minimum occupancy.
// These helpers implement the key/value/child shuffling in terms of Node
// values only; the engine owns deciding which case applies and committing
// the results to fresh pages.

// BorrowFromLeft moves the left sibling's last entry onto the front of
// deficient and returns the new parent separator. For leaves the moved
// entry is a key/value pair and the new separator is deficient's new first
// key. For internal nodes the parent's current separator is pulled down as
// deficient's new first key, the sibling's last child is moved across, and
// the sibling's last key becomes the new separator.
func BorrowFromLeft(deficient, left *Node, separator []byte) (newSeparator []byte) {
	if deficient.Leaf {
		n := len(left.Keys)
		borrowedKey := left.Keys[n-1]
		borrowedVal := left.Values[n-1]
		left.Keys = left.Keys[:n-1]
		left.Values = left.Values[:n-1]

		deficient.Keys = insertAt(deficient.Keys, 0, borrowedKey)
		deficient.Values = insertAt(deficient.Values, 0, borrowedVal)
		return cloneBytes(deficient.Keys[0])
	}

	n := len(left.Keys)
	borrowedChild := left.Children[n]
	newSeparator = cloneBytes(left.Keys[n-1])
	left.Keys = left.Keys[:n-1]
	left.Children = left.Children[:n]

	deficient.Keys = insertAt(deficient.Keys, 0, cloneBytes(separator))
	deficient.Children = insertUint64At(deficient.Children, 0, borrowedChild)
	return newSeparator
}

// BorrowFromRight is the mirror of BorrowFromLeft, moving the right
// sibling's first entry onto the end of deficient.
func BorrowFromRight(deficient, right *Node, separator []byte) (newSeparator []byte) {
	if deficient.Leaf {
		borrowedKey := right.Keys[0]
		borrowedVal := right.Values[0]
		right.Keys = deleteAt(right.Keys, 0)
		right.Values = deleteAt(right.Values, 0)

		deficient.Keys = append(deficient.Keys, borrowedKey)
		deficient.Values = append(deficient.Values, borrowedVal)
		return cloneBytes(right.Keys[0])
	}

	borrowedChild := right.Children[0]
	newSeparator = cloneBytes(right.Keys[0])
	right.Keys = deleteAt(right.Keys, 0)
	right.Children = deleteUint64At(right.Children, 0)

	deficient.Keys = append(deficient.Keys, cloneBytes(separator))
	deficient.Children = append(deficient.Children, borrowedChild)
	return newSeparator
}

// MergeLeaves concatenates right's entries onto left and returns left as
// the single merged node. Used when a leaf and its sibling are both at
// minimum occupancy.
func MergeLeaves(left, right *Node) *Node {
	left.Keys = append(left.Keys, right.Keys...)
	left.Values = append(left.Values, right.Values...)
	return left
}

// MergeInternal concatenates right's keys/children onto left with the
// separator reinserted between them, and returns left as the merged node.
func MergeInternal(left *Node, separator []byte, right *Node) *Node {
	left.Keys = append(left.Keys, cloneBytes(separator))
	left.Keys = append(left.Keys, right.Keys...)
	left.Children = append(left.Children, right.Children...)
	return left
}
