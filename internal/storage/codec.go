package storage

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// encodeVector serializes v with gonum's binary vector format. An empty
// vector encodes to nil so it can be stored as NULL.
func encodeVector(v []float64) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := mat.NewVecDense(len(v), v).MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode vector: %w", err)
	}
	return b, nil
}

func decodeVector(b []byte) ([]float64, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v mat.VecDense
	if err := v.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out, nil
}
