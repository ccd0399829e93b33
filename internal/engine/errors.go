package engine

import "fmt"

// GraphLoadError reports a malformed transaction edge encountered while
// building the projection. It is fatal to the batch run that hit it; the
// previously committed feature snapshot stays live.
type GraphLoadError struct {
	Performer   string
	Beneficiary string
	Reason      string
}

func (e *GraphLoadError) Error() string {
	return fmt.Sprintf("graph load: edge %s -> %s: %s", e.Performer, e.Beneficiary, e.Reason)
}
