package cabs

// Transformer modifies a staged trip in place after its derived attributes have
// been computed and before outliers are flagged.
type Transformer interface {
	Transform(*StagedTrip) error
}

// TransformerFunc adapts an ordinary function to the Transformer interface.
type TransformerFunc func(*StagedTrip) error

// Transform calls t.
func (t TransformerFunc) Transform(st *StagedTrip) error {
	return t(st)
}
