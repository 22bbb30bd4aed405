//go:build hsv_closed

package hsv

const DefaultVariant = VariantClosed
