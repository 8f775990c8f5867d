package service

import (
	"strings"

	"github.com/google/uuid"
)

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// documentNamespace scopes deterministic knowledge document ids
var documentNamespace = uuid.MustParse("6f1c2a8e-4b7d-4f0e-9a35-2d8c1e7b5a90")

// DocumentID derives a stable id for a pair committed from a summary, so
// committing the same summary twice overwrites instead of duplicating.
func DocumentID(summaryID, question string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))
	return uuid.NewSHA1(documentNamespace, []byte(summaryID+"\n"+normalized)).String()
}
