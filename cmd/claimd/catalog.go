package main

import (
	"fmt"
	"os"

	"github.com/cuemby/claimd/pkg/types"
	"gopkg.in/yaml.v3"
)

// CatalogFile describes the resource pool: a group tree and the resources
// hanging off it. Groups must be listed after their parents.
type CatalogFile struct {
	Groups    []CatalogGroup    `yaml:"groups"`
	Resources []CatalogResource `yaml:"resources"`
}

type CatalogGroup struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Parents []string `yaml:"parents,omitempty"`
}

type CatalogResource struct {
	Name      string             `yaml:"name"`
	Type      types.ResourceType `yaml:"type"`
	Unit      string             `yaml:"unit"`
	Total     int64              `yaml:"total"`
	Available *int64             `yaml:"available,omitempty"`
	Active    *bool              `yaml:"active,omitempty"`
	Groups    []string           `yaml:"groups"`
}

// catalogWriter is the part of *manager.Manager the loader needs
type catalogWriter interface {
	ListResources() ([]*types.Resource, error)
	ListResourceGroups() ([]*types.ResourceGroup, error)
	CreateResource(res *types.Resource) (*types.Resource, error)
	CreateResourceGroup(group *types.ResourceGroup) (*types.ResourceGroup, error)
}

func loadCatalog(w catalogWriter, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}

	groups, resources, err := applyCatalog(w, &file)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Catalog loaded: %d groups, %d resources created\n", groups, resources)
	return nil
}

// applyCatalog creates what the file names and the database lacks. Entries
// whose name already exists are left untouched, so reloading is harmless.
func applyCatalog(w catalogWriter, file *CatalogFile) (int, int, error) {
	existingGroups, err := w.ListResourceGroups()
	if err != nil {
		return 0, 0, err
	}
	groupIDs := make(map[string]int, len(existingGroups))
	for _, g := range existingGroups {
		groupIDs[g.Name] = g.ID
	}

	existingResources, err := w.ListResources()
	if err != nil {
		return 0, 0, err
	}
	resourceNames := make(map[string]bool, len(existingResources))
	for _, r := range existingResources {
		resourceNames[r.Name] = true
	}

	resolve := func(names []string) ([]int, error) {
		ids := make([]int, 0, len(names))
		for _, name := range names {
			id, ok := groupIDs[name]
			if !ok {
				return nil, fmt.Errorf("unknown resource group %q", name)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	var createdGroups, createdResources int
	for _, g := range file.Groups {
		if _, ok := groupIDs[g.Name]; ok {
			continue
		}
		parents, err := resolve(g.Parents)
		if err != nil {
			return createdGroups, createdResources, fmt.Errorf("group %s: %v", g.Name, err)
		}
		created, err := w.CreateResourceGroup(&types.ResourceGroup{Name: g.Name, Type: g.Type, ParentIDs: parents})
		if err != nil {
			return createdGroups, createdResources, fmt.Errorf("failed to create group %s: %v", g.Name, err)
		}
		groupIDs[created.Name] = created.ID
		createdGroups++
	}

	for _, r := range file.Resources {
		if resourceNames[r.Name] {
			continue
		}
		groups, err := resolve(r.Groups)
		if err != nil {
			return createdGroups, createdResources, fmt.Errorf("resource %s: %v", r.Name, err)
		}
		res := &types.Resource{
			Name:              r.Name,
			Type:              r.Type,
			Unit:              r.Unit,
			TotalCapacity:     r.Total,
			AvailableCapacity: r.Total,
			Active:            true,
			GroupIDs:          groups,
		}
		if r.Available != nil {
			res.AvailableCapacity = *r.Available
		}
		if r.Active != nil {
			res.Active = *r.Active
		}
		if _, err := w.CreateResource(res); err != nil {
			return createdGroups, createdResources, fmt.Errorf("failed to create resource %s: %v", r.Name, err)
		}
		resourceNames[r.Name] = true
		createdResources++
	}
	return createdGroups, createdResources, nil
}
