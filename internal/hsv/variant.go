package hsv

import (
	"fmt"
	"strings"
)

// Variant tags one of the four kernels. The set is closed; the frame
// pipeline switches on it once per row range, never per pixel.
type Variant uint8

const (
	VariantBasic Variant = iota
	VariantShort
	VariantFloat
	VariantClosed
)

// Variants lists every kernel in tag order.
var Variants = []Variant{VariantBasic, VariantShort, VariantFloat, VariantClosed}

func (v Variant) String() string {
	switch v {
	case VariantBasic:
		return "basic"
	case VariantShort:
		return "short"
	case VariantFloat:
		return "float"
	case VariantClosed:
		return "closed"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// ParseVariant maps a name written by String back to its tag.
func ParseVariant(name string) (Variant, error) {
	for _, v := range Variants {
		if strings.EqualFold(name, v.String()) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown hsv variant %q", name)
}

// Float8 runs RGBToHSVf on 8-bit channels and stores the result as bytes:
// the hue is truncated toward zero and wrapped modulo 256, s and v are
// scaled back to 0-255.
func Float8(r, g, b uint8) (h, s, v uint8) {
	fh, fs, fv := RGBToHSVf(float32(r)/255, float32(g)/255, float32(b)/255)
	return uint8(int32(fh)), unitToByte(fs), unitToByte(fv)
}

// Closed8 runs RGBToHSVClosed on 8-bit channels; all three outputs are
// scaled from [0,1] to 0-255.
func Closed8(r, g, b uint8) (h, s, v uint8) {
	fh, fs, fv := RGBToHSVClosed(float32(r)/255, float32(g)/255, float32(b)/255)
	return unitToByte(fh), unitToByte(fs), unitToByte(fv)
}

func unitToByte(x float32) uint8 {
	x = x*255 + 0.5
	if x <= 0 {
		return 0
	}
	if x >= 255 {
		return 255
	}
	return uint8(x)
}
