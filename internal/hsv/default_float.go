//go:build hsv_float && !hsv_closed

package hsv

const DefaultVariant = VariantFloat
