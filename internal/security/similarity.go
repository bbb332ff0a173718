package security

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
)

// Component names a hardware identifier that takes part in matching.
type Component string

const (
	ComponentMAC   Component = "mac"
	ComponentCPU   Component = "cpu"
	ComponentBoard Component = "board"
)

// DefaultMatchThreshold is the minimum similarity for two snapshots to be
// considered the same machine.
const DefaultMatchThreshold = 0.60

// Weights maps each component to its contribution to the similarity score.
// The weights of a table should sum to 1.0.
type Weights map[Component]float64

// DefaultWeights is the weight table used for license binding.
var DefaultWeights = Weights{
	ComponentMAC:   0.30,
	ComponentCPU:   0.30,
	ComponentBoard: 0.40,
}

// HardwareSnapshot holds the machine identifiers a license is bound to.
// Any field may be empty when the platform does not expose it.
type HardwareSnapshot struct {
	MAC   string `json:"mac,omitempty"`
	CPU   string `json:"cpu,omitempty"`
	Board string `json:"board,omitempty"`
}

// Get returns the value of a single component.
func (s HardwareSnapshot) Get(c Component) string {
	switch c {
	case ComponentMAC:
		return s.MAC
	case ComponentCPU:
		return s.CPU
	case ComponentBoard:
		return s.Board
	default:
		return ""
	}
}

// IsEmpty reports whether no component is set.
func (s HardwareSnapshot) IsEmpty() bool {
	return s.MAC == "" && s.CPU == "" && s.Board == ""
}

// HWID derives the stable identifier embedded in signed tokens.
func (s HardwareSnapshot) HWID() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{s.MAC, s.CPU, s.Board}, "|")))
	return hex.EncodeToString(sum[:])
}

// SimilarityWith scores two snapshots against a weight table. A component
// contributes its weight only when both sides carry the same non-empty value.
func SimilarityWith(weights Weights, a, b HardwareSnapshot) float64 {
	components := make([]Component, 0, len(weights))
	for c := range weights {
		components = append(components, c)
	}
	sort.Slice(components, func(i, j int) bool { return components[i] < components[j] })

	score := 0.0
	for _, c := range components {
		av, bv := a.Get(c), b.Get(c)
		if av != "" && av == bv {
			score += weights[c]
		}
	}
	score = math.Round(score*1e6) / 1e6
	return math.Min(math.Max(score, 0), 1)
}

// Similarity scores two snapshots with DefaultWeights.
func Similarity(a, b HardwareSnapshot) float64 {
	return SimilarityWith(DefaultWeights, a, b)
}

// IsMatch reports whether similarity reaches the threshold.
func IsMatch(a, b HardwareSnapshot, threshold float64) bool {
	return Similarity(a, b) >= threshold
}

// MatchStored compares a stored binding with the current machine. An empty
// stored snapshot has never been bound and is always satisfied.
func MatchStored(stored, current HardwareSnapshot, threshold float64) (bool, float64) {
	if stored.IsEmpty() {
		return true, 1
	}
	score := Similarity(stored, current)
	return score >= threshold, score
}
