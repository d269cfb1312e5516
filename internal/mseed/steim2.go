package mseed

import (
	"encoding/binary"
	"fmt"
)

// STEIM2 frames are 64 bytes: a control word followed by fifteen data words.
// The first frame of a record sacrifices two data words for the forward
// (X0) and reverse (XN) integration constants.
const (
	steimFrameLen   = 64
	wordsPerFrame   = 16
	framesPerRecord = (recordLen - dataOffset) / steimFrameLen
)

// dataWordCapacity is the number of data-carrying words available in one
// record: 15 per frame, minus X0 and XN in the first frame.
const dataWordCapacity = framesPerRecord*(wordsPerFrame-1) - 2

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

func fits(v int32, bits uint) bool {
	lim := int32(1) << (bits - 1)
	return v >= -lim && v < lim
}

// decodeSteim2 expands the data section of one record into at most
// numSamples values.
func decodeSteim2(data []byte, numSamples int) ([]int32, error) {
	if len(data)%steimFrameLen != 0 {
		return nil, fmt.Errorf("steim2: data length %d not a frame multiple", len(data))
	}

	var (
		diffs []int32
		x0    int32
		xn    int32
		seen0 bool
	)

	for f := 0; f*steimFrameLen < len(data); f++ {
		frame := data[f*steimFrameLen:]
		ctrl := binary.BigEndian.Uint32(frame[0:4])
		for i := 1; i < wordsPerFrame; i++ {
			code := (ctrl >> uint(30-2*i)) & 3
			w := binary.BigEndian.Uint32(frame[4*i : 4*i+4])
			switch code {
			case 0:
				if f == 0 && i == 1 {
					x0 = int32(w)
					seen0 = true
				} else if f == 0 && i == 2 {
					xn = int32(w)
				}
			case 1:
				for s := uint(0); s < 4; s++ {
					diffs = append(diffs, signExtend(w>>(24-8*s), 8))
				}
			case 2:
				switch w >> 30 {
				case 1:
					diffs = append(diffs, signExtend(w, 30))
				case 2:
					diffs = append(diffs, signExtend(w>>15, 15), signExtend(w, 15))
				case 3:
					for s := uint(0); s < 3; s++ {
						diffs = append(diffs, signExtend(w>>(20-10*s), 10))
					}
				default:
					return nil, fmt.Errorf("steim2: bad dnib 0 for code 2")
				}
			case 3:
				switch w >> 30 {
				case 0:
					for s := uint(0); s < 5; s++ {
						diffs = append(diffs, signExtend(w>>(24-6*s), 6))
					}
				case 1:
					for s := uint(0); s < 6; s++ {
						diffs = append(diffs, signExtend(w>>(25-5*s), 5))
					}
				case 2:
					for s := uint(0); s < 7; s++ {
						diffs = append(diffs, signExtend(w>>(24-4*s), 4))
					}
				default:
					return nil, fmt.Errorf("steim2: bad dnib 3 for code 3")
				}
			}
		}
	}

	if !seen0 {
		return nil, fmt.Errorf("steim2: missing forward integration constant")
	}
	if len(diffs) < numSamples {
		return nil, fmt.Errorf("steim2: decoded %d diffs, want %d samples", len(diffs), numSamples)
	}

	out := make([]int32, numSamples)
	if numSamples > 0 {
		out[0] = x0
		for i := 1; i < numSamples; i++ {
			out[i] = out[i-1] + diffs[i]
		}
		if got := out[numSamples-1]; got != xn {
			return nil, fmt.Errorf("steim2: reverse integration mismatch: got %d want %d", got, xn)
		}
	}
	return out, nil
}

// packing describes one way of filling a 32-bit word with diffs.
type packing struct {
	count int
	bits  uint
	code  uint32 // 2-bit nibble in the control word
	dnib  uint32 // decode nibble in the data word, or ^0 for none
}

// Orderings matter: densest first so the encoder prefers them.
var packings = []packing{
	{7, 4, 3, 2},
	{6, 5, 3, 1},
	{5, 6, 3, 0},
	{4, 8, 1, ^uint32(0)},
	{3, 10, 2, 3},
	{2, 15, 2, 2},
	{1, 30, 2, 1},
}

// encodeSteim2 compresses as many samples as fit into one record's data
// section. prev is the sample preceding samples[0] (used for the first
// difference; zero history encodes samples[0] as its own difference).
// Returns the 448-byte data section and the number of samples consumed.
func encodeSteim2(samples []int32, prev int32) ([]byte, int, error) {
	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("steim2: no samples")
	}
	diffs := make([]int32, len(samples))
	for i, s := range samples {
		if i == 0 {
			diffs[i] = s - prev
		} else {
			diffs[i] = s - samples[i-1]
		}
	}

	type dataWord struct {
		w    uint32
		code uint32
	}
	var (
		words    []dataWord
		consumed int
	)

	for consumed < len(diffs) && len(words) < dataWordCapacity {
		var chosen *packing
		for i := range packings {
			p := &packings[i]
			if consumed+p.count > len(diffs) {
				continue
			}
			ok := true
			for _, d := range diffs[consumed : consumed+p.count] {
				if !fits(d, p.bits) {
					ok = false
					break
				}
			}
			if ok {
				chosen = p
				break
			}
		}
		if chosen == nil {
			// Every packing was rejected, so even the single 30-bit word
			// cannot hold this difference.
			return nil, 0, fmt.Errorf("steim2: difference %d exceeds 30 bits", diffs[consumed])
		}

		var w uint32
		if chosen.dnib != ^uint32(0) {
			w = chosen.dnib << 30
		}
		used := 30
		if chosen.dnib == ^uint32(0) {
			used = 32
		}
		per := int(chosen.bits)
		for s := 0; s < chosen.count; s++ {
			d := uint32(diffs[consumed+s]) & ((1 << chosen.bits) - 1)
			shift := uint(used - per*(s+1))
			w |= d << shift
		}
		words = append(words, dataWord{w: w, code: chosen.code})
		consumed += chosen.count
	}

	buf := make([]byte, framesPerRecord*steimFrameLen)
	wi := 0 // next data word to place
	for f := 0; f < framesPerRecord; f++ {
		var ctrl uint32
		frame := buf[f*steimFrameLen:]
		start := 1
		if f == 0 {
			binary.BigEndian.PutUint32(frame[4:8], uint32(samples[0]))
			binary.BigEndian.PutUint32(frame[8:12], uint32(samples[consumed-1]))
			start = 3
		}
		for i := start; i < wordsPerFrame; i++ {
			if wi >= len(words) {
				break
			}
			ctrl |= words[wi].code << uint(30-2*i)
			binary.BigEndian.PutUint32(frame[4*i:4*i+4], words[wi].w)
			wi++
		}
		binary.BigEndian.PutUint32(frame[0:4], ctrl)
	}
	return buf, consumed, nil
}
