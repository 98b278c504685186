// Package shuffle randomizes the queued target order with an unbiased
// in-place Fisher–Yates.
package shuffle

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/mwhitfield/backherd/internal/model"
)

// Source yields one uniformly distributed 64-bit draw per call.
type Source func() uint64

// CryptoSource draws from crypto/rand.
func CryptoSource() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic("shuffle: entropy source failed: " + err.Error())
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// Targets shuffles in place using the default entropy source.
func Targets(targets []model.Target) {
	TargetsFrom(targets, CryptoSource)
}

// TargetsFrom shuffles in place drawing from src. At each step i the swap
// index is uniform over [0, i]: draws in the biased tail above
// floor(2^64/(i+1))*(i+1) are rejected before the modulo reduction.
func TargetsFrom(targets []model.Target, src Source) {
	for i := len(targets) - 1; i > 0; i-- {
		j := uniform(uint64(i+1), src)
		targets[i], targets[j] = targets[j], targets[i]
	}
}

// uniform returns an unbiased draw in [0, n).
func uniform(n uint64, src Source) uint64 {
	// max - rem is the last value below floor(2^64/n)*n, where
	// rem = 2^64 mod n.
	const max = ^uint64(0)
	rem := (max%n + 1) % n
	for {
		v := src()
		if v <= max-rem {
			return v % n
		}
	}
}
