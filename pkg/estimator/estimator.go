package estimator

import (
	"context"
	"fmt"
	"sort"

	"github.com/cuemby/claimd/pkg/types"
)

// Estimator derives resource needs from a specification tree
type Estimator interface {
	Estimate(ctx context.Context, tree *types.SpecificationTree) (*Result, error)
}

// FileEstimate describes a set of data products read or written on a resource
type FileEstimate struct {
	Kind  string `json:"kind" yaml:"kind"`
	Count int64  `json:"count" yaml:"count"`
	Size  int64  `json:"size" yaml:"size"` // bytes per file
	SAP   int    `json:"sap,omitempty" yaml:"sap"`
}

// Estimate is one requirement: ResourceCount resources, each needing the
// given size per resource type
type Estimate struct {
	ResourceTypes map[types.ResourceType]int64 `json:"resource_types"`
	ResourceCount int                          `json:"resource_count,omitempty"`
	InputFiles    []FileEstimate               `json:"input_files,omitempty"`
	OutputFiles   []FileEstimate               `json:"output_files,omitempty"`
}

// Count returns ResourceCount, treating zero as one
func (e Estimate) Count() int {
	if e.ResourceCount <= 0 {
		return 1
	}
	return e.ResourceCount
}

// Types returns the resource types of the estimate in a stable order
func (e Estimate) Types() []types.ResourceType {
	result := make([]types.ResourceType, 0, len(e.ResourceTypes))
	for t := range e.ResourceTypes {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Properties converts the file estimates into claim properties
func (e Estimate) Properties() []types.ClaimProperty {
	var props []types.ClaimProperty
	add := func(files []FileEstimate, io types.PropertyIO) {
		for _, f := range files {
			props = append(props,
				types.ClaimProperty{Name: f.Kind + "_nr_of_files", Value: f.Count, IO: io, SAP: f.SAP},
				types.ClaimProperty{Name: f.Kind + "_file_size", Value: f.Size, IO: io, SAP: f.SAP},
			)
		}
	}
	add(e.InputFiles, types.PropertyInput)
	add(e.OutputFiles, types.PropertyOutput)
	return props
}

// Result is the estimator's answer for one specification tree
type Result struct {
	Errors    []string   `json:"errors,omitempty"`
	Estimates []Estimate `json:"estimates"`
}

// Validate returns an EstimationError when the estimator reported errors,
// returned no estimates, or returned an estimate without resource types,
// with an unknown type or with a non-positive size
func (r *Result) Validate() error {
	if r == nil {
		return &types.EstimationError{Reasons: []string{"no estimator result"}}
	}
	reasons := append([]string(nil), r.Errors...)
	if len(r.Estimates) == 0 && len(reasons) == 0 {
		reasons = append(reasons, "no estimates")
	}
	for i, e := range r.Estimates {
		if len(e.ResourceTypes) == 0 {
			reasons = append(reasons, fmt.Sprintf("estimate %d: missing resource types", i))
		}
		if e.ResourceCount < 0 {
			reasons = append(reasons, fmt.Sprintf("estimate %d: negative resource count %d", i, e.ResourceCount))
		}
		for _, t := range e.Types() {
			if !t.IsValid() {
				reasons = append(reasons, fmt.Sprintf("estimate %d: unknown resource type %q", i, t))
				continue
			}
			if size := e.ResourceTypes[t]; size <= 0 {
				reasons = append(reasons, fmt.Sprintf("estimate %d: non-positive %s estimate %d", i, t, size))
			}
		}
	}
	if len(reasons) > 0 {
		return &types.EstimationError{Reasons: reasons}
	}
	return nil
}
