package models

// DivisionCount is the live occupancy of one division.
type DivisionCount struct {
	Division string `db:"division" json:"division"`
	Count    int    `db:"c" json:"count"`
}

// DivisionStats describes occupancy and remaining seats for one division.
type DivisionStats struct {
	Division  string `json:"division"`
	Count     int    `json:"count"`
	Remaining int    `json:"remaining"`
}

// BranchStats summarises a branch across its divisions in canonical order.
type BranchStats struct {
	Branch    string          `json:"branch"`
	Total     int             `json:"total"`
	Capacity  int             `json:"capacity"`
	Divisions []DivisionStats `json:"divisions"`
}
