// Package classify assigns chain / independent / institutional flags and
// ownership types to pharmacy records using ordered pattern tables.
package classify

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pharmacy-intel/internal/model"
)

// MultiLocationParent is the chain parent assigned to independents that are
// reclassified by the multi-location pass.
const MultiLocationParent = "Multi-Location Operator"

// NamedChain binds a chain parent name to its match pattern.
type NamedChain struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	re      *regexp.Regexp
}

// Tables holds the ordered classification pattern tables. Named chains are
// checked first (first match wins and assigns the parent), then generic
// chain indicators; institutional flags are assigned independently.
type Tables struct {
	NamedChains     []NamedChain `yaml:"named_chains"`
	ChainIndicators []string     `yaml:"chain_indicators"`
	Institutional   []string     `yaml:"institutional"`

	chainRes         []*regexp.Regexp
	institutionalRes []*regexp.Regexp
}

// Result is the classification outcome for a single record.
type Result struct {
	IsChain         bool
	IsIndependent   bool
	IsInstitutional bool
	ChainParent     *string
}

// Default returns the built-in pattern tables, compiled.
func Default() *Tables {
	t := &Tables{
		NamedChains: []NamedChain{
			{Name: "CVS", Pattern: `\bCVS\b`},
			{Name: "WALGREENS", Pattern: `\bWALGREEN`},
			{Name: "WALMART", Pattern: `\bWALMART\b`},
			{Name: "RITE AID", Pattern: `\bRITE\s*AID\b`},
			{Name: "KROGER", Pattern: `\bKROGER\b`},
			{Name: "COSTCO", Pattern: `\bCOSTCO\b`},
			{Name: "SAM'S CLUB", Pattern: `\bSAM'?S\s+CLUB\b`},
			{Name: "TARGET", Pattern: `\bTARGET\b`},
			{Name: "PUBLIX", Pattern: `\bPUBLIX\b`},
			{Name: "H-E-B", Pattern: `\bH[\-\s]?E[\-\s]?B\b`},
			{Name: "ALBERTSONS", Pattern: `\bALBERTSON`},
			{Name: "SAFEWAY", Pattern: `\bSAFEWAY\b`},
			{Name: "MEIJER", Pattern: `\bMEIJER\b`},
			{Name: "WINN-DIXIE", Pattern: `\bWINN[\-\s]?DIXIE\b`},
			{Name: "OMNICARE", Pattern: `\bOMNICARE\b`},
			{Name: "PHARMERICA", Pattern: `\bPHARMERICA\b`},
			{Name: "GENOA", Pattern: `\bGENOA\b`},
			{Name: "EXPRESS SCRIPTS", Pattern: `\bEXPRESS\s+SCRIPTS\b`},
			{Name: "OPTUM RX", Pattern: `\bOPTUM\s+RX\b`},
			{Name: "AMAZON PHARMACY", Pattern: `\bAMAZON\s+PHARMACY\b`},
		},
		ChainIndicators: []string{
			`\bGIANT\b`, `\bSHOPRITE\b`, `\bWEGMAN`, `\bHY[\-\s]?VEE\b`,
			`\bFRED\s+MEYER\b`, `\bHARRIS\s+TEETER\b`, `\bKINDRED\b`,
			`\bBRIGHTSPRING\b`, `\bCARDINAL\s+HEALTH\b`, `\bMCKESSON\b`,
			`\bAMERISOURCE\b`, `\bCIGNA\b`, `\bCAPSULE\b`,
			`\bALTO\s+PHARMACY\b`, `\bPHARMHOUSE\b`,
		},
		Institutional: []string{
			`\bHOSPITAL\b`, `\bMEDICAL\s+CENTER\b`, `\bNURSING\b`,
			`\bLONG[\-\s]?TERM\s+CARE\b`, `\bLTC\b`, `\bSKILLED\s+NURSING\b`,
			`\bREHAB\b`, `\bASS?ISTED\s+LIVING\b`, `\bINFUSION\b`,
			`\bCORRECTIONAL\b`, `\bPRISON\b`, `\bVETERANS?\b`,
		},
	}
	if err := t.compile(); err != nil {
		// Built-in patterns are static and covered by tests.
		panic(err)
	}
	return t
}

// LoadFile reads pattern tables from a YAML file, replacing the built-ins.
func LoadFile(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read patterns file %s", path)
	}

	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrapf(err, "classify: parse patterns file %s", path)
	}
	if len(t.NamedChains) == 0 && len(t.ChainIndicators) == 0 && len(t.Institutional) == 0 {
		return nil, eris.Errorf("classify: patterns file %s defines no tables", path)
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Tables) compile() error {
	for i := range t.NamedChains {
		re, err := regexp.Compile(t.NamedChains[i].Pattern)
		if err != nil {
			return eris.Wrapf(err, "classify: compile named chain %q", t.NamedChains[i].Name)
		}
		t.NamedChains[i].re = re
	}
	t.chainRes = t.chainRes[:0]
	for _, p := range t.ChainIndicators {
		re, err := regexp.Compile(p)
		if err != nil {
			return eris.Wrapf(err, "classify: compile chain indicator %q", p)
		}
		t.chainRes = append(t.chainRes, re)
	}
	t.institutionalRes = t.institutionalRes[:0]
	for _, p := range t.Institutional {
		re, err := regexp.Compile(p)
		if err != nil {
			return eris.Wrapf(err, "classify: compile institutional pattern %q", p)
		}
		t.institutionalRes = append(t.institutionalRes, re)
	}
	return nil
}

// Classify evaluates the combined organization and DBA names against the
// pattern tables. Chain and independent are mutually exclusive; the
// institutional flag is orthogonal.
func (t *Tables) Classify(orgName, dbaName string) Result {
	combined := strings.ToUpper(orgName) + " " + strings.ToUpper(dbaName)

	res := Result{IsIndependent: true}

	for _, nc := range t.NamedChains {
		if nc.re.MatchString(combined) {
			res.IsChain = true
			res.IsIndependent = false
			parent := nc.Name
			res.ChainParent = &parent
			break
		}
	}

	if !res.IsChain {
		for _, re := range t.chainRes {
			if re.MatchString(combined) {
				res.IsChain = true
				res.IsIndependent = false
				break
			}
		}
	}

	for _, re := range t.institutionalRes {
		if re.MatchString(combined) {
			res.IsInstitutional = true
			break
		}
	}

	return res
}

// Ownership infers the ownership type from the legal business name. Rules
// are ordered: the LLC check precedes PLLC, so PLLC names resolve to LLC.
func Ownership(orgName string) string {
	name := strings.ToUpper(orgName)
	switch {
	case strings.Contains(name, "LLC"):
		return model.OwnershipLLC
	case strings.Contains(name, "INC") || strings.Contains(name, "INCORPORATED"):
		return model.OwnershipCorporation
	case strings.Contains(name, "LLP") || strings.Contains(name, "PARTNERSHIP"):
		return model.OwnershipPartnership
	case strings.Contains(name, "PC") || strings.Contains(name, "PLLC"):
		return model.OwnershipProfCorp
	default:
		return model.OwnershipUnknown
	}
}
