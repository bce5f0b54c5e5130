package media

import (
	"image"
	"image/color"
	"sort"

	"github.com/disintegration/imaging"
)

// paletteSize is the largest PNG palette.
const paletteSize = 256

type colorCount struct {
	c color.NRGBA
	n int
}

// quantize reduces img to at most 256 colours by median cut over its colour
// histogram. Pixels map to the nearest palette entry without dithering, so an
// image that already has few colours comes back unchanged.
func quantize(img image.Image) *image.Paletted {
	src := imaging.Clone(img)

	hist := make(map[color.NRGBA]int)
	for i := 0; i+3 < len(src.Pix); i += 4 {
		hist[color.NRGBA{R: src.Pix[i], G: src.Pix[i+1], B: src.Pix[i+2], A: src.Pix[i+3]}]++
	}
	entries := make([]colorCount, 0, len(hist))
	for c, n := range hist {
		entries = append(entries, colorCount{c: c, n: n})
	}
	sort.Slice(entries, func(i, j int) bool { return packed(entries[i].c) < packed(entries[j].c) })

	pal := medianCut(entries, paletteSize)
	dst := image.NewPaletted(src.Bounds(), pal)
	index := make(map[color.NRGBA]uint8, len(hist))
	for i, j := 0, 0; i+3 < len(src.Pix); i, j = i+4, j+1 {
		c := color.NRGBA{R: src.Pix[i], G: src.Pix[i+1], B: src.Pix[i+2], A: src.Pix[i+3]}
		idx, ok := index[c]
		if !ok {
			idx = uint8(pal.Index(c))
			index[c] = idx
		}
		dst.Pix[j] = idx
	}
	return dst
}

func packed(c color.NRGBA) uint32 {
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}

// box is a run of histogram entries with its widest channel.
type box struct {
	entries []colorCount
	ch      int
	span    int
}

func newBox(entries []colorCount) box {
	b := box{entries: entries, span: -1}
	if len(entries) < 2 {
		return b
	}
	for ch := 0; ch < 4; ch++ {
		lo, hi := uint8(255), uint8(0)
		for _, e := range entries {
			v := channel(e.c, ch)
			lo, hi = min(lo, v), max(hi, v)
		}
		if r := int(hi) - int(lo); r > b.span {
			b.ch, b.span = ch, r
		}
	}
	return b
}

func medianCut(entries []colorCount, size int) color.Palette {
	boxes := []box{newBox(entries)}
	for len(boxes) < size {
		i := widestBox(boxes)
		if i < 0 {
			break
		}
		lo, hi := splitBox(boxes[i].entries, boxes[i].ch)
		boxes[i] = newBox(lo)
		boxes = append(boxes, newBox(hi))
	}

	pal := make(color.Palette, 0, len(boxes))
	for _, b := range boxes {
		if len(b.entries) > 0 {
			pal = append(pal, average(b.entries))
		}
	}
	return pal
}

func channel(c color.NRGBA, ch int) uint8 {
	switch ch {
	case 0:
		return c.R
	case 1:
		return c.G
	case 2:
		return c.B
	default:
		return c.A
	}
}

// widestBox returns the splittable box with the largest channel span, or
// -1 once every box holds a single colour.
func widestBox(boxes []box) int {
	best, bestSpan := -1, 0
	for i, b := range boxes {
		if len(b.entries) > 1 && b.span > bestSpan {
			best, bestSpan = i, b.span
		}
	}
	return best
}

// splitBox halves b at the pixel-weighted median of channel ch. Both halves
// are non-empty.
func splitBox(b []colorCount, ch int) ([]colorCount, []colorCount) {
	sort.SliceStable(b, func(i, j int) bool { return channel(b[i].c, ch) < channel(b[j].c, ch) })

	total := 0
	for _, e := range b {
		total += e.n
	}
	k, seen := 1, 0
	for i, e := range b {
		seen += e.n
		if seen*2 >= total {
			k = i + 1
			break
		}
	}
	k = min(max(k, 1), len(b)-1)
	return b[:k:k], b[k:]
}

func average(b []colorCount) color.NRGBA {
	var sum [4]int
	total := 0
	for _, e := range b {
		sum[0] += int(e.c.R) * e.n
		sum[1] += int(e.c.G) * e.n
		sum[2] += int(e.c.B) * e.n
		sum[3] += int(e.c.A) * e.n
		total += e.n
	}
	avg := func(s int) uint8 { return uint8((s + total/2) / total) }
	return color.NRGBA{R: avg(sum[0]), G: avg(sum[1]), B: avg(sum[2]), A: avg(sum[3])}
}
