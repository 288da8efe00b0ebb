package memutils

import "math/bits"

// Bitmap is a fixed-length set of bits
type Bitmap struct {
	words []uint64
	size  int
}

func NewBitmap(size int) Bitmap {
	return Bitmap{
		words: make([]uint64, DivCeil(size, 64)),
		size:  size,
	}
}

func (b *Bitmap) Len() int { return b.size }

func (b *Bitmap) Get(index int) bool {
	return b.words[index>>6]&(uint64(1)<<(index&63)) != 0
}

func (b *Bitmap) Set(index int) {
	b.words[index>>6] |= uint64(1) << (index & 63)
}

func (b *Bitmap) Clear(index int) {
	b.words[index>>6] &^= uint64(1) << (index & 63)
}

// SetAll sets every bit in the bitmap
func (b *Bitmap) SetAll() {
	for i := range b.words {
		b.words[i] = ^uint64(0)
	}
	if tail := b.size & 63; tail != 0 {
		b.words[len(b.words)-1] = (uint64(1) << tail) - 1
	}
}

func (b *Bitmap) ClearAll() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// Count returns the number of set bits
func (b *Bitmap) Count() int {
	count := 0
	for _, word := range b.words {
		count += bits.OnesCount64(word)
	}
	return count
}
