package constraints

import "fmt"

// VoidPointerPolicy decides what happens to sources taking a void* argument
// when some source creates and returns a void*.
type VoidPointerPolicy string

const (
	// VoidPointerExcludeAmbiguous drops every source with a void* argument.
	VoidPointerExcludeAmbiguous VoidPointerPolicy = "exclude-ambiguous"
	// VoidPointerKeepAll keeps them.
	VoidPointerKeepAll VoidPointerPolicy = "keep-all"
)

// ParseVoidPointerPolicy accepts "" as the default.
func ParseVoidPointerPolicy(s string) (VoidPointerPolicy, error) {
	switch VoidPointerPolicy(s) {
	case "", VoidPointerExcludeAmbiguous:
		return VoidPointerExcludeAmbiguous, nil
	case VoidPointerKeepAll:
		return VoidPointerKeepAll, nil
	}
	return "", fmt.Errorf("unknown void pointer policy %q", s)
}

// SetterExclusion decides which setters are removed from the source set.
type SetterExclusion string

const (
	// SetterSole removes an API that is the only setter of some type.
	SetterSole SetterExclusion = "sole"
	// SetterShared removes APIs listed among several setters of a type.
	SetterShared SetterExclusion = "shared"
)

// ParseSetterExclusion accepts "" as the default.
func ParseSetterExclusion(s string) (SetterExclusion, error) {
	switch SetterExclusion(s) {
	case "", SetterSole:
		return SetterSole, nil
	case SetterShared:
		return SetterShared, nil
	}
	return "", fmt.Errorf("unknown setter exclusion %q", s)
}

// Options tune role classification.
type Options struct {
	VoidPointer VoidPointerPolicy
	Setters     SetterExclusion
}

// DefaultOptions returns the literal heuristics.
func DefaultOptions() Options {
	return Options{VoidPointer: VoidPointerExcludeAmbiguous, Setters: SetterSole}
}
