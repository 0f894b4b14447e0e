package testutil

// FixedIDGenerator returns the same universe id every time.
//
// This keeps log output and golden files byte-identical between runs.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator for id. An empty id becomes
// "test-universe".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-universe"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
