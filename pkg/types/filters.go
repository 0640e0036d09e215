package types

// SearchFilters narrows a search by document facets.
// Fields are AND-combined; values within a field are OR-combined.
type SearchFilters struct {
	Difficulty    Difficulty
	Tags          []string
	Concepts      []string
	Category      []string
	HasRunes      []string
	HasFunctions  []string
	HasComponents []string
}

// IsEmpty reports whether no field of the filter is set
func (f *SearchFilters) IsEmpty() bool {
	if f == nil {
		return true
	}
	return f.Difficulty == "" &&
		len(f.Tags) == 0 &&
		len(f.Concepts) == 0 &&
		len(f.Category) == 0 &&
		len(f.HasRunes) == 0 &&
		len(f.HasFunctions) == 0 &&
		len(f.HasComponents) == 0
}
