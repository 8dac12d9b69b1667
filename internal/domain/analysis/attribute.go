package analysis

// Attribute is one clinical metric read from a report. Value keeps the
// original formatting; Verdict is assigned by the coordinator.
type Attribute struct {
	Name    string  `json:"test_name" firestore:"test_name"`
	Value   string  `json:"value" firestore:"value"`
	Unit    string  `json:"unit" firestore:"unit"`
	Range   string  `json:"range" firestore:"range"`
	Verdict *string `json:"verdict" firestore:"verdict"`
}
