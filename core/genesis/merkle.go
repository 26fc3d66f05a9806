package genesis

import (
	"bytes"
	"crypto/sha256"
)

// RFC 6962 domain separation prefixes.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// LeafHash returns the tree hash of a leaf with the given data.
func LeafHash(data []byte) []byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(data)
	return h.Sum(nil)
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// split returns the largest power of two smaller than n (n > 1).
func split(n int) int {
	k := 1
	for k<<1 < n {
		k <<= 1
	}
	return k
}

// rootOf computes the tree head over already hashed leaves.
func rootOf(leaves [][]byte) []byte {
	switch len(leaves) {
	case 0:
		sum := sha256.Sum256(nil)
		return sum[:]
	case 1:
		return leaves[0]
	}
	k := split(len(leaves))
	return nodeHash(rootOf(leaves[:k]), rootOf(leaves[k:]))
}

// pathOf returns the audit path for leaf m, ordered from the leaf upwards.
func pathOf(m int, leaves [][]byte) [][]byte {
	if len(leaves) <= 1 {
		return nil
	}
	k := split(len(leaves))
	if m < k {
		return append(pathOf(m, leaves[:k]), rootOf(leaves[k:]))
	}
	return append(pathOf(m-k, leaves[k:]), rootOf(leaves[:k]))
}

// RootOfLeaves computes the tree head over already hashed leaves.
func RootOfLeaves(leaves [][]byte) []byte {
	return rootOf(leaves)
}

// AuditPathOf returns the audit path for leaf index in a tree of already hashed leaves.
func AuditPathOf(index int, leaves [][]byte) [][]byte {
	if index < 0 || index >= len(leaves) {
		return nil
	}
	return pathOf(index, leaves)
}

// VerifyInclusion checks that leafData sits at index in a tree of size leaves with
// the given root, using the audit path produced by AuditPath.
func VerifyInclusion(leafData []byte, index, size uint64, path [][]byte, root []byte) bool {
	if index >= size {
		return false
	}
	fn, sn := index, size-1
	r := LeafHash(leafData)
	for _, p := range path {
		if sn == 0 {
			return false
		}
		if fn&1 == 1 || fn == sn {
			r = nodeHash(p, r)
			if fn&1 == 0 {
				for fn&1 == 0 && fn != 0 {
					fn >>= 1
					sn >>= 1
				}
			}
		} else {
			r = nodeHash(r, p)
		}
		fn >>= 1
		sn >>= 1
	}
	return sn == 0 && bytes.Equal(r, root)
}
