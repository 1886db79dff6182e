package pyramid

import (
	"golang.org/x/exp/slices"
)

// spreadMasks move the lower 32 bits of a uint apart, leaving a zero bit between every two bits
var spreadMasks = [...]struct {
	shift uint
	mask  uint64
}{
	{16, 0x0000FFFF0000FFFF},
	{8, 0x00FF00FF00FF00FF},
	{4, 0x0F0F0F0F0F0F0F0F},
	{2, 0x3333333333333333},
	{1, 0x5555555555555555},
}

func spread(n uint32) uint64 {
	v := uint64(n)
	for _, sm := range spreadMasks {
		v = (v | v<<sm.shift) & sm.mask
	}
	return v
}

// ZOrder is the Morton code of the tile within its zoom level, the column bits interleaved with the row bits.
func (t Tile) ZOrder() uint64 {
	return spread(uint32(t.Col)) | spread(uint32(t.Row))<<1
}

// SortZOrder sorts tiles by zoom level and Z-order, so consecutive tiles are close to each other.
func SortZOrder(tiles []Tile) {
	slices.SortFunc(tiles, func(a, b Tile) int {
		if a.Zoom != b.Zoom {
			return cmpUint(a.Zoom, b.Zoom)
		}
		za, zb := a.ZOrder(), b.ZOrder()
		switch {
		case za < zb:
			return -1
		case za > zb:
			return 1
		}
		return 0
	})
}

func cmpUint(a, b uint) int {
	if a < b {
		return -1
	}
	return 1
}
