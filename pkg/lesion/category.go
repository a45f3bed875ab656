package lesion

import (
	"fmt"
	"strings"
)

// Count is the number of lesion categories the classifier distinguishes.
const Count = 7

// Category describes one lesion class.
type Category struct {
	Index      int     `json:"index" yaml:"index"`
	Code       string  `json:"code" yaml:"code"`
	Label      string  `json:"label" yaml:"label"`
	RiskWeight float64 `json:"risk_weight" yaml:"riskWeight"`
}

// The table is ordered alphabetically by code; that order is the
// classifier's output index order.
var categories = [Count]Category{
	{Index: 0, Code: "akiec", Label: "Actinic keratosis", RiskWeight: 0.6},
	{Index: 1, Code: "bcc", Label: "Basal cell carcinoma", RiskWeight: 0.75},
	{Index: 2, Code: "bkl", Label: "Benign keratosis", RiskWeight: 0.2},
	{Index: 3, Code: "df", Label: "Dermatofibroma", RiskWeight: 0.15},
	{Index: 4, Code: "mel", Label: "Melanoma", RiskWeight: 0.95},
	{Index: 5, Code: "nv", Label: "Melanocytic nevus", RiskWeight: 0.1},
	{Index: 6, Code: "vasc", Label: "Vascular lesion", RiskWeight: 0.3},
}

var byCode = func() map[string]Category {
	m := make(map[string]Category, Count)
	for _, c := range categories {
		m[c.Code] = c
	}
	return m
}()

// Categories returns a copy of the category table in index order.
func Categories() []Category {
	out := make([]Category, Count)
	copy(out, categories[:])
	return out
}

// Codes returns category codes in index order.
func Codes() []string {
	out := make([]string, Count)
	for i, c := range categories {
		out[i] = c.Code
	}
	return out
}

// Lookup returns the category for a code. Codes are case-sensitive.
func Lookup(code string) (Category, bool) {
	c, ok := byCode[code]
	return c, ok
}

// ByIndex returns the category at output index i.
func ByIndex(i int) (Category, error) {
	if i < 0 || i >= Count {
		return Category{}, fmt.Errorf("category index out of range: %d", i)
	}
	return categories[i], nil
}

// RiskWeights returns the per-category risk weights in index order.
func RiskWeights() []float64 {
	out := make([]float64, Count)
	for i, c := range categories {
		out[i] = c.RiskWeight
	}
	return out
}

// ValidOrdering reports whether codes matches the canonical category order.
func ValidOrdering(codes []string) error {
	if len(codes) != Count {
		return fmt.Errorf("expected %d categories, got %d", Count, len(codes))
	}
	for i, c := range codes {
		if categories[i].Code != c {
			return fmt.Errorf("category %d is %q, expected %q (order: %s)",
				i, c, categories[i].Code, strings.Join(Codes(), ","))
		}
	}
	return nil
}
