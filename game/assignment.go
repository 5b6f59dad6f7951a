package game

// Assignment is a badge's static configuration: which team and flavor it
// belongs to, loaded from an external source and looked up by badge id.
type Assignment struct {
	ID     string
	Team   int
	Flavor string
	Note   string
}
