// Package catalog is the resource catalog: resources, their capacities and
// the resource group tree, served from a read-through cache that every write
// through the catalog invalidates.
package catalog
