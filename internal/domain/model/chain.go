package model

import "strconv"

// NetUID identifies the subnet whose population is being evaluated.
type NetUID uint16

func (n NetUID) String() string {
	return strconv.FormatUint(uint64(n), 10)
}

// PoolSize is the fixed population of the subnet. Every uid lives in
// [0, PoolSize) and the sync scheduler round-robins over the same space.
const PoolSize = 256

// UID identifies a single candidate model slot.
type UID uint16

// Valid reports whether the uid falls inside the population.
func (u UID) Valid() bool {
	return int(u) < PoolSize
}

// AllUIDs returns every uid in the population in ascending order.
func AllUIDs() []UID {
	uids := make([]UID, PoolSize)
	for i := range uids {
		uids[i] = UID(i)
	}
	return uids
}
