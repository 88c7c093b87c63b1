package geo

import "fmt"

// Issue codes reported by the validator.
const (
	IssueOutOfRange           = "coordinate_out_of_range"
	IssueUnrecognizedGeometry = "unrecognized_geometry"
	IssueEmptyGeometry        = "empty_geometry"
	IssueNonFiniteCoordinate  = "non_finite_coordinate"
	IssueNonFiniteNumber      = "non_finite_number"
	IssueNonNumericValue      = "non_numeric_value"
)

// Issue is a non-fatal anomaly found on a single feature.
type Issue struct {
	Source       string `json:"source"`
	FeatureIndex int    `json:"feature_index"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	// Rejected is true when the feature was excluded from the cleaned collection.
	Rejected bool `json:"rejected,omitempty"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s[%d]: %s: %s", i.Source, i.FeatureIndex, i.Code, i.Message)
}
