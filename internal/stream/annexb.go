package stream

import (
	"bufio"
	"errors"
	"io"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// annexBReader splits an H.264 AnnexB byte stream into access units.
type annexBReader struct {
	r       *bufio.Reader
	synced  bool   // past the first start code
	pending []byte // first NAL of the next access unit
}

func newAnnexBReader(r io.Reader) *annexBReader {
	return &annexBReader{r: bufio.NewReaderSize(r, 1<<20)}
}

// nextNAL returns the next NAL unit without its start code. The encoder's
// emulation prevention guarantees 00 00 01 never appears inside a NAL.
func (a *annexBReader) nextNAL() ([]byte, error) {
	zeros := 0
	for !a.synced {
		b, err := a.r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch {
		case b == 0:
			zeros++
		case b == 1 && zeros >= 2:
			a.synced = true
		default:
			zeros = 0
		}
	}

	var nal []byte
	zeros = 0
	for {
		b, err := a.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(nal) > 0 {
				return nal[:len(nal)-zeros], nil
			}
			return nil, err
		}
		if b == 1 && zeros >= 2 {
			return nal[:len(nal)-zeros], nil
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		nal = append(nal, b)
	}
}

func isVCL(naluType byte) bool { return naluType == 1 || naluType == 5 }

// isKeyAccessUnit reports whether au carries an IDR slice or an SPS, the
// points a decoder can join the stream at.
func isKeyAccessUnit(au []byte) bool {
	for i := 0; i+3 < len(au); i++ {
		if au[i] != 0 || au[i+1] != 0 || au[i+2] != 1 {
			continue
		}
		switch au[i+3] & 0x1F {
		case 5, 7:
			return true
		}
		i += 2
	}
	return false
}

// nextAccessUnit groups NAL units until the next picture starts: a non-VCL
// unit after slice data, or a slice whose first_mb_in_slice is zero.
func (a *annexBReader) nextAccessUnit() ([]byte, error) {
	var au []byte
	haveSlice := false
	for {
		nal := a.pending
		a.pending = nil
		if nal == nil {
			var err error
			nal, err = a.nextNAL()
			if err != nil {
				if errors.Is(err, io.EOF) && len(au) > 0 {
					return au, nil
				}
				return nil, err
			}
		}
		if len(nal) == 0 {
			continue
		}
		naluType := nal[0] & 0x1F
		firstSlice := isVCL(naluType) && len(nal) > 1 && nal[1]&0x80 != 0
		if haveSlice && (!isVCL(naluType) || firstSlice) {
			a.pending = nal
			return au, nil
		}
		au = append(au, annexBStartCode...)
		au = append(au, nal...)
		if isVCL(naluType) {
			haveSlice = true
		}
		if len(au) > 8<<20 {
			return au, nil
		}
	}
}
