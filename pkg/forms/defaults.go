package forms

import "github.com/gabrielmiguelok/easyforms/pkg/blueprint"

// TrackingHandle is the reserved handle of the hidden field that receives
// tracked click identifiers.
const TrackingHandle = "tracking_id"

// TrackingSource supplies the merged tracking-parameter string.
type TrackingSource interface {
	MergedValue() string
}

// DefaultResolver computes the initial value of a field. Resolve has no side
// effects; capturing tracking parameters is the tracking store's job.
type DefaultResolver struct {
	Tracking       TrackingSource
	TrackingHandle string
}

// Resolve returns the initial value for f.
func (r DefaultResolver) Resolve(f blueprint.Field) any {
	switch {
	case f.Type == blueprint.TypeAssets:
		return nil

	case f.Type == blueprint.TypeCheckboxes:
		if f.Default != nil {
			return cloneValue(f.Default)
		}
		return []any{}

	case f.Type == blueprint.TypeToggle:
		if f.Default != nil {
			return f.Default
		}
		return false

	case f.Hidden() && f.Handle == r.trackingHandle():
		if r.Tracking != nil {
			if v := r.Tracking.MergedValue(); v != "" {
				return v
			}
		}
		if f.Default != nil {
			return f.Default
		}
		return ""
	}

	if f.Default != nil {
		return cloneValue(f.Default)
	}
	return ""
}

func (r DefaultResolver) trackingHandle() string {
	if r.TrackingHandle != "" {
		return r.TrackingHandle
	}
	return TrackingHandle
}

// cloneValue copies list values so rows never share a backing array.
func cloneValue(v any) any {
	switch list := v.(type) {
	case []any:
		return append([]any(nil), list...)
	case []string:
		return append([]string(nil), list...)
	}
	return v
}
