package catalog

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/cuemby/claimd/pkg/events"
	"github.com/cuemby/claimd/pkg/log"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Source is the backing store of the catalog, normally *manager.Manager
type Source interface {
	ListResources() ([]*types.Resource, error)
	ListResourceGroups() ([]*types.ResourceGroup, error)
	UpdateResource(id int, update types.ResourceUpdate) (*types.Resource, error)
}

// GroupNode is one resource group with its child groups and member resources
type GroupNode struct {
	Group     *types.ResourceGroup
	Children  []*GroupNode
	Resources []*types.Resource
}

// GroupTree is the resource group hierarchy; Roots are groups without parents
type GroupTree struct {
	Roots  []*GroupNode
	byID   map[int]*GroupNode
	byName map[string]*GroupNode
}

// Node returns the group with the given name, or nil
func (t *GroupTree) Node(name string) *GroupNode {
	return t.byName[name]
}

// ResourceIDs returns the ids of every resource in the subtree below node
func (n *GroupNode) ResourceIDs() map[int]bool {
	ids := make(map[int]bool)
	visited := make(map[int]bool)
	var walk func(*GroupNode)
	walk = func(g *GroupNode) {
		if visited[g.Group.ID] {
			return
		}
		visited[g.Group.ID] = true
		for _, r := range g.Resources {
			ids[r.ID] = true
		}
		for _, c := range g.Children {
			walk(c)
		}
	}
	walk(n)
	return ids
}

// Catalog serves resources and groups from a read-through cache. The cache
// is filled on first read and dropped on every write through the catalog,
// on ResourceUpdated notifications when Watch is running, and when this
// node gains leadership.
type Catalog struct {
	source Source
	logger zerolog.Logger

	mu    sync.Mutex
	gen   uint64
	state *snapshot
}

// snapshot is immutable once built
type snapshot struct {
	resources []*types.Resource
	tree      *GroupTree
}

// New creates a catalog over source
func New(source Source) *Catalog {
	return &Catalog{
		source: source,
		logger: log.WithComponent("catalog"),
	}
}

// Invalidate drops the cache; the next read reloads from the source
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.state = nil
	c.mu.Unlock()
}

// LeadershipChanged drops the cache when this node becomes leader. Resource
// updates applied under the previous leader were announced on that node
// only.
func (c *Catalog) LeadershipChanged(isLeader bool) {
	if !isLeader {
		return
	}
	c.logger.Debug().Msg("Leadership gained, dropping catalog cache")
	c.Invalidate()
}

// Watch invalidates the cache for every ResourceUpdated event on sub until
// ctx is done or sub is closed
func (c *Catalog) Watch(ctx context.Context, sub events.Subscriber) {
	go func() {
		for {
			select {
			case event, ok := <-sub:
				if !ok {
					return
				}
				if event.Type == events.EventResourceUpdated {
					c.Invalidate()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Catalog) load() (*snapshot, error) {
	c.mu.Lock()
	state, gen := c.state, c.gen
	c.mu.Unlock()
	if state != nil {
		return state, nil
	}

	resources, err := c.source.ListResources()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list resources")
	}
	groups, err := c.source.ListResourceGroups()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list resource groups")
	}

	byID := make(map[int]*types.Resource, len(resources))
	for _, r := range resources {
		byID[r.ID] = r
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].ID < resources[j].ID })
	state = &snapshot{resources: resources, tree: buildTree(groups, byID)}

	c.mu.Lock()
	// A load that raced an invalidation is served once but not cached.
	if c.gen == gen {
		c.state = state
	}
	c.mu.Unlock()

	c.logger.Debug().Int("resources", len(resources)).Int("groups", len(groups)).Msg("Catalog loaded")
	return state, nil
}

func buildTree(groups []*types.ResourceGroup, resources map[int]*types.Resource) *GroupTree {
	tree := &GroupTree{
		byID:   make(map[int]*GroupNode, len(groups)),
		byName: make(map[string]*GroupNode, len(groups)),
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	for _, g := range groups {
		node := &GroupNode{Group: g}
		for _, id := range g.ResourceIDs {
			if r, ok := resources[id]; ok {
				node.Resources = append(node.Resources, r)
			}
		}
		tree.byID[g.ID] = node
		tree.byName[g.Name] = node
	}
	for _, g := range groups {
		node := tree.byID[g.ID]
		for _, childID := range g.ChildIDs {
			if child, ok := tree.byID[childID]; ok {
				node.Children = append(node.Children, child)
			}
		}
		if len(g.ParentIDs) == 0 {
			tree.Roots = append(tree.Roots, node)
		}
	}
	return tree
}

// ListResources returns the resources matching filter, ordered by id.
// GroupRoot is a group name or numeric group id and selects the resources in
// that group's subtree.
func (c *Catalog) ListResources(ctx context.Context, filter types.ResourceFilter) ([]*types.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state, err := c.load()
	if err != nil {
		return nil, err
	}

	var members map[int]bool
	if filter.GroupRoot != "" {
		root := state.tree.lookup(filter.GroupRoot)
		if root == nil {
			return nil, types.NotFound("resource group", filter.GroupRoot)
		}
		members = root.ResourceIDs()
	}

	var result []*types.Resource
	for _, r := range state.resources {
		if len(filter.IDs) > 0 && !containsInt(filter.IDs, r.ID) {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, r.Type) {
			continue
		}
		if members != nil && !members[r.ID] {
			continue
		}
		copied := *r
		result = append(result, &copied)
	}
	return result, nil
}

func (t *GroupTree) lookup(ref string) *GroupNode {
	if node := t.byName[ref]; node != nil {
		return node
	}
	if id, err := strconv.Atoi(ref); err == nil {
		return t.byID[id]
	}
	return nil
}

// GetResource returns one resource
func (c *Catalog) GetResource(ctx context.Context, id int) (*types.Resource, error) {
	resources, err := c.ListResources(ctx, types.ResourceFilter{IDs: []int{id}})
	if err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		return nil, types.NotFound("resource", id)
	}
	return resources[0], nil
}

// GroupMemberships returns the group hierarchy with member resources
func (c *Catalog) GroupMemberships(ctx context.Context) (*GroupTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state, err := c.load()
	if err != nil {
		return nil, err
	}
	return state.tree, nil
}

// UpdateResourceAvailability changes active/available/total on a resource.
// Available capacity is not bounded by total: operators may override it.
func (c *Catalog) UpdateResourceAvailability(ctx context.Context, id int, update types.ResourceUpdate) (*types.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer c.Invalidate()

	res, err := c.source.UpdateResource(id, update)
	if err != nil {
		return nil, err
	}
	logger := log.WithResourceID(c.logger, res.ID)
	logger.Info().
		Bool("active", res.Active).
		Int64("available_capacity", res.AvailableCapacity).
		Int64("total_capacity", res.TotalCapacity).
		Msg("Resource availability updated")
	return res, nil
}

// ResourceTypes lists the known resource types
func (c *Catalog) ResourceTypes() []types.ResourceType {
	return []types.ResourceType{
		types.ResourceTypeStorage,
		types.ResourceTypeBandwidth,
		types.ResourceTypeCompute,
		types.ResourceTypeRCU,
	}
}

// CandidatesFor returns the active resources of typ in cluster's group
// subtree. An empty cluster selects from every resource.
func (c *Catalog) CandidatesFor(ctx context.Context, cluster string, typ types.ResourceType) ([]*types.Resource, error) {
	resources, err := c.ListResources(ctx, types.ResourceFilter{
		Types:     []types.ResourceType{typ},
		GroupRoot: cluster,
	})
	if err != nil {
		return nil, err
	}
	active := resources[:0]
	for _, r := range resources {
		if r.Active {
			active = append(active, r)
		}
	}
	return active, nil
}

func containsInt(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsType(ts []types.ResourceType, t types.ResourceType) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}
	return false
}
