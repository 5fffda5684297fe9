package detector

// Scaler centers and scales features robustly: per column, subtract the
// median and divide by the interquartile range. Columns with zero spread
// divide by 1, so constant features stay constant instead of exploding.
type Scaler struct {
	Medians []float64 `json:"medians"`
	Scales  []float64 `json:"scales"`
}

// FitScaler learns the per-column median and IQR of X.
func FitScaler(X [][]float64) *Scaler {
	if len(X) == 0 {
		return &Scaler{}
	}
	dims := len(X[0])
	medians := make([]float64, dims)
	scales := make([]float64, dims)

	col := make([]float64, len(X))
	for j := 0; j < dims; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		medians[j] = quantile(col, 0.5)
		iqr := quantile(col, 0.75) - quantile(col, 0.25)
		if iqr == 0 {
			iqr = 1
		}
		scales[j] = iqr
	}
	return &Scaler{Medians: medians, Scales: scales}
}

// Transform returns the scaled copy of X.
func (s *Scaler) Transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Medians[j]) / s.Scales[j]
		}
		out[i] = scaled
	}
	return out
}
