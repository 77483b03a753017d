package vsi

// Property keys emitted by §4.7. Not-knowable keys for a given slide are
// simply absent from Slide.Properties(); none of these are guaranteed.
const (
	PropVendor          = "vendor"
	PropQuickHash1      = "quickhash-1"
	PropMPPX            = "mpp-x"
	PropMPPY            = "mpp-y"
	PropBoundsX         = "bounds-x"
	PropBoundsY         = "bounds-y"
	PropBoundsWidth     = "bounds-width"
	PropBoundsHeight    = "bounds-height"
	PropBackgroundColor = "background-color"
	PropObjectivePower  = "objective-power"
	PropComment         = "comment"
)

// VendorName is the sentinel value every Olympus slide reports for
// PropVendor.
const VendorName = "olympus"
