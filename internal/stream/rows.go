package stream

import (
	"runtime"
	"sync"

	"rgb2hsv/internal/hsv"
)

// RowRange is a half-open span of rows [Lo, Hi).
type RowRange struct {
	Lo, Hi int
}

// PartitionRows splits rows into at most workers contiguous, disjoint
// ranges covering [0, rows). Earlier ranges take the remainder rows.
func PartitionRows(rows, workers int) []RowRange {
	if rows <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > rows {
		workers = rows
	}
	out := make([]RowRange, 0, workers)
	chunk, rem := rows/workers, rows%workers
	lo := 0
	for w := 0; w < workers; w++ {
		hi := lo + chunk
		if w < rem {
			hi++
		}
		out = append(out, RowRange{Lo: lo, Hi: hi})
		lo = hi
	}
	return out
}

// ConvertFrame rewrites the first three channels of every pixel in f from
// BGR to HSV in place, keeping storage order (H in the B slot, S in G, V
// in R). Row ranges run on separate goroutines; ConvertFrame returns only
// after all of them have finished.
func ConvertFrame(f Frame, workers int, variant hsv.Variant) {
	if f.Empty() || f.Channels < 3 {
		return
	}
	ranges := PartitionRows(f.Rows, workers)
	if len(ranges) == 1 {
		convertRows(f, ranges[0], variant)
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(ranges))
	for _, rr := range ranges {
		go func(rr RowRange) {
			defer wg.Done()
			convertRows(f, rr, variant)
		}(rr)
	}
	wg.Wait()
}

// convertRows touches only the bytes of rows [rr.Lo, rr.Hi).
func convertRows(f Frame, rr RowRange, variant hsv.Variant) {
	stride := f.Stride()
	span := f.Data[rr.Lo*stride : rr.Hi*stride]
	ch := f.Channels
	switch variant {
	case hsv.VariantShort:
		for i := 0; i+2 < len(span); i += ch {
			span[i], span[i+1], span[i+2] = hsv.RGBToHSVShort(span[i+2], span[i+1], span[i])
		}
	case hsv.VariantFloat:
		for i := 0; i+2 < len(span); i += ch {
			span[i], span[i+1], span[i+2] = hsv.Float8(span[i+2], span[i+1], span[i])
		}
	case hsv.VariantClosed:
		for i := 0; i+2 < len(span); i += ch {
			span[i], span[i+1], span[i+2] = hsv.Closed8(span[i+2], span[i+1], span[i])
		}
	default:
		for i := 0; i+2 < len(span); i += ch {
			span[i], span[i+1], span[i+2] = hsv.RGBToHSV(span[i+2], span[i+1], span[i])
		}
	}
}
