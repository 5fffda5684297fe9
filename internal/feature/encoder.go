package feature

import "github.com/eelnxz09/anamoly-processing/internal/domain"

// categoricalAttrs is the fixed set of categorical transaction attributes, in
// feature-column order.
var categoricalAttrs = []string{"merchant_category", "location", "device_type"}

// Encoder assigns stable small-integer codes to categorical attribute values.
// A fresh encoder learns codes in first-seen order during a single extraction
// call. Freezing captures the mapping for reuse at inference, so a category
// keeps the code it was trained with; unseen categories encode as -1.
type Encoder struct {
	Mappings map[string]map[string]int `json:"mappings"`
	Frozen   bool                      `json:"frozen"`
}

// NewEncoder creates an empty, learning encoder.
func NewEncoder() *Encoder {
	return &Encoder{Mappings: make(map[string]map[string]int)}
}

// Freeze stops the encoder from learning new codes. Called when a model
// captures the encoder at the end of training.
func (e *Encoder) Freeze() {
	e.Frozen = true
}

// encode returns the code for a category, learning it when the encoder is not
// frozen. Unseen categories on a frozen encoder map to -1.
func (e *Encoder) encode(attr, category string) int {
	m, ok := e.Mappings[attr]
	if !ok {
		if e.Frozen {
			return -1
		}
		m = make(map[string]int)
		e.Mappings[attr] = m
	}
	code, ok := m[category]
	if ok {
		return code
	}
	if e.Frozen {
		return -1
	}
	code = len(m)
	m[category] = code
	return code
}

// columnsFor decides which categorical attributes yield feature columns. A
// frozen encoder reproduces exactly the attributes seen at training time; a
// learning encoder takes every attribute with at least one non-empty value in
// the batch.
func (e *Encoder) columnsFor(records []domain.Transaction) []string {
	var cols []string
	for _, attr := range categoricalAttrs {
		if e.Frozen {
			if _, ok := e.Mappings[attr]; ok {
				cols = append(cols, attr)
			}
			continue
		}
		for _, r := range records {
			if categoricalValue(r, attr) != "" {
				cols = append(cols, attr)
				break
			}
		}
	}
	return cols
}
