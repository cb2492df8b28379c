// Package idseq hands out small per-identifier sequence numbers.
//
// Each identifier owns a Redis bitmap. Allocate claims the lowest clear bit;
// Release clears it again and deletes the bitmap once it is empty, so idle
// identifiers cost nothing in the store. Numbers are unique among the
// currently allocated ones, not over time.
package idseq
