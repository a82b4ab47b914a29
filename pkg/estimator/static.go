package estimator

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Rule estimates every task of TaskType (and SubType, when set). Sizes are
// fixed per resource; RatesPerSecond are multiplied by the task duration.
type Rule struct {
	TaskType       types.TaskType               `yaml:"task_type"`
	SubType        string                       `yaml:"subtype"`
	ResourceCount  int                          `yaml:"resource_count"`
	Sizes          map[types.ResourceType]int64 `yaml:"sizes"`
	RatesPerSecond map[types.ResourceType]int64 `yaml:"rates_per_second"`
	OutputFiles    []FileEstimate               `yaml:"output_files"`
}

func (r Rule) matches(tree *types.SpecificationTree) bool {
	if r.TaskType != tree.TaskType {
		return false
	}
	return r.SubType == "" || r.SubType == tree.TaskSubType
}

// Static is a configuration driven estimator. A rule with a subtype wins
// over a rule without one.
type Static struct {
	rules []Rule
}

// NewStatic creates an estimator over rules
func NewStatic(rules []Rule) *Static {
	return &Static{rules: rules}
}

// LoadStatic reads rules from a YAML file holding a list of rules
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read estimator rules %s", path)
	}
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, errors.Wrapf(err, "failed to parse estimator rules %s", path)
	}
	return NewStatic(rules), nil
}

func (s *Static) rule(tree *types.SpecificationTree) (Rule, bool) {
	var fallback *Rule
	for i, r := range s.rules {
		if !r.matches(tree) {
			continue
		}
		if r.SubType != "" {
			return r, true
		}
		if fallback == nil {
			fallback = &s.rules[i]
		}
	}
	if fallback == nil {
		return Rule{}, false
	}
	return *fallback, true
}

// Estimate implements Estimator
func (s *Static) Estimate(ctx context.Context, tree *types.SpecificationTree) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tree == nil {
		return &Result{Errors: []string{"empty specification tree"}}, nil
	}
	rule, ok := s.rule(tree)
	if !ok {
		return &Result{Errors: []string{fmt.Sprintf("no estimate rule for %s/%s", tree.TaskType, tree.TaskSubType)}}, nil
	}
	seconds := int64(tree.EndTime.Sub(tree.StartTime).Seconds())
	if seconds <= 0 && len(rule.RatesPerSecond) > 0 {
		return &Result{Errors: []string{"task duration must be positive"}}, nil
	}

	sizes := make(map[types.ResourceType]int64, len(rule.Sizes)+len(rule.RatesPerSecond))
	for t, size := range rule.Sizes {
		sizes[t] = size
	}
	for t, rate := range rule.RatesPerSecond {
		sizes[t] += rate * seconds
	}

	return &Result{Estimates: []Estimate{{
		ResourceTypes: sizes,
		ResourceCount: rule.ResourceCount,
		OutputFiles:   rule.OutputFiles,
	}}}, nil
}
