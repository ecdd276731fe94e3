// Package scorer computes acquisition-attractiveness scores for stored
// pharmacies from utilization, competition, and demographic inputs.
package scorer

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Sub-score component names usable in a weight profile.
const (
	ComponentVolume      = "volume"
	ComponentDemand      = "demand"
	ComponentCompetition = "competition"
	ComponentAging       = "aging"
	ComponentTenure      = "tenure"
	ComponentIncome      = "income"
	ComponentGrowth      = "growth"
)

var knownComponents = map[string]bool{
	ComponentVolume:      true,
	ComponentDemand:      true,
	ComponentCompetition: true,
	ComponentAging:       true,
	ComponentTenure:      true,
	ComponentIncome:      true,
	ComponentGrowth:      true,
}

// weightTolerance is the allowed deviation of a profile's weight sum from 1.
const weightTolerance = 0.01

// Profile is a named set of sub-score weights. Components absent from the
// map contribute nothing to the composite.
type Profile struct {
	Name    string
	Weights map[string]float64
}

// BuiltinProfiles returns the shipped weight profiles: "market" favors
// competition and demand, "retirement" favors volume and operator tenure.
func BuiltinProfiles() map[string]Profile {
	return map[string]Profile{
		"market": {
			Name: "market",
			Weights: map[string]float64{
				ComponentCompetition: 0.25,
				ComponentDemand:      0.25,
				ComponentAging:       0.20,
				ComponentGrowth:      0.15,
				ComponentIncome:      0.15,
			},
		},
		"retirement": {
			Name: "retirement",
			Weights: map[string]float64{
				ComponentVolume:      0.30,
				ComponentCompetition: 0.20,
				ComponentAging:       0.20,
				ComponentTenure:      0.15,
				ComponentIncome:      0.08,
				ComponentGrowth:      0.07,
			},
		},
	}
}

// LoadProfiles reads extra weight profiles from a YAML file keyed by profile
// name and merges them over the built-ins. Every loaded profile is validated.
func LoadProfiles(path string) (map[string]Profile, error) {
	profiles := BuiltinProfiles()
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scorer: read profiles file %s", path)
	}

	var raw map[string]map[string]float64
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "scorer: parse profiles file %s", path)
	}

	for name, weights := range raw {
		p := Profile{Name: name, Weights: weights}
		if err := ValidateProfile(p); err != nil {
			return nil, err
		}
		profiles[name] = p
	}
	return profiles, nil
}

// SelectProfile resolves a profile by name, loading overrides from
// profilesFile when set.
func SelectProfile(name, profilesFile string) (Profile, error) {
	profiles, err := LoadProfiles(profilesFile)
	if err != nil {
		return Profile{}, err
	}
	p, ok := profiles[name]
	if !ok {
		names := make([]string, 0, len(profiles))
		for n := range profiles {
			names = append(names, n)
		}
		sort.Strings(names)
		return Profile{}, eris.Errorf("scorer: unknown profile %q (have: %s)", name, strings.Join(names, ", "))
	}
	return p, nil
}

// ValidateProfile checks that a profile is internally consistent.
func ValidateProfile(p Profile) error {
	var errs []string

	if len(p.Weights) == 0 {
		errs = append(errs, "no weights defined")
	}

	var sum float64
	for component, w := range p.Weights {
		if !knownComponents[component] {
			errs = append(errs, fmt.Sprintf("unknown component %q", component))
		}
		if w < 0 {
			errs = append(errs, fmt.Sprintf("%s weight must be >= 0", component))
		}
		sum += w
	}

	if len(p.Weights) > 0 && math.Abs(sum-1) > weightTolerance {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.3f", sum))
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("scorer: profile %q validation failed: %s", p.Name, strings.Join(errs, "; "))
	}
	return nil
}
