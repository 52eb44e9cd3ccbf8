package policy

// Violation reports an attempt to change a path protected by the readonly
// policy. It names the offending path and the pattern that matched it.
type Violation struct {
	Path    string
	Pattern string
}

// Error returns the violation message
func (v *Violation) Error() string {
	return Describe(v.Path, v.Pattern)
}
