//go:build hsv_short && !hsv_float && !hsv_closed

package hsv

const DefaultVariant = VariantShort
