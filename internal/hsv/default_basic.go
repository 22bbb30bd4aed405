//go:build !hsv_short && !hsv_float && !hsv_closed

package hsv

// DefaultVariant is the kernel compiled into the command. Select another
// with -tags hsv_short, hsv_float or hsv_closed.
const DefaultVariant = VariantBasic
