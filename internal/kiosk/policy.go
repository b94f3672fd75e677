package kiosk

import "slices"

// AllowList maps a kiosk to the officers it may call.
type AllowList map[int64][]int64

// DefaultAllowList is the static partition used when none is configured.
func DefaultAllowList() AllowList {
	return AllowList{
		1: {1, 3, 5},
		2: {2, 4, 6},
	}
}

// Officers returns the officers kioskID may call, in configured order.
func (a AllowList) Officers(kioskID int64) []int64 {
	return slices.Clone(a[kioskID])
}

func (a AllowList) Allowed(kioskID, officerID int64) bool {
	return slices.Contains(a[kioskID], officerID)
}
