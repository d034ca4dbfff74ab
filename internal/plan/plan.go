// Package plan loads and summarizes Terraform plan JSON exports.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNotFound is returned by Load when the plan file does not exist.
var ErrNotFound = errors.New("plan: file not found")

// ErrMalformed is returned by Load when the file is not a well-formed
// plan JSON export.
var ErrMalformed = errors.New("plan: malformed plan file")

// Document is the raw Terraform plan export. Read-only input; never mutated.
type Document struct {
	FormatVersion    string           `json:"format_version"`
	TerraformVersion string           `json:"terraform_version"`
	ResourceChanges  []ResourceChange `json:"resource_changes"`
}

// ResourceChange is one resource change block from the plan.
type ResourceChange struct {
	Address       string `json:"address"`
	ModuleAddress string `json:"module_address,omitempty"`
	Mode          string `json:"mode,omitempty"`
	Type          string `json:"type"`
	Name          string `json:"name"`
	ProviderName  string `json:"provider_name,omitempty"`
	Change        Change `json:"change"`
}

// Change holds the action set and attribute snapshots for one resource.
type Change struct {
	Actions []string        `json:"actions"`
	Before  json.RawMessage `json:"before"`
	After   json.RawMessage `json:"after"`
}

// Action is the normalized kind of a resource change.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionReplace Action = "replace"
	ActionNoop    Action = "no-op"
)

// Kind classifies the action set of a change. A replace carries both
// delete and create in its action list; that pairing distinguishes it
// from a plain update.
func (rc ResourceChange) Kind() Action {
	var create, update, del bool
	for _, a := range rc.Change.Actions {
		switch a {
		case "create":
			create = true
		case "update":
			update = true
		case "delete":
			del = true
		}
	}
	switch {
	case create && del:
		return ActionReplace
	case create:
		return ActionCreate
	case update:
		return ActionUpdate
	case del:
		return ActionDelete
	}
	return ActionNoop
}

// ChangeSummary is the per-resource tuple used in prompts and reports.
type ChangeSummary struct {
	Address      string          `json:"address"`
	ResourceType string          `json:"resource_type"`
	ResourceName string          `json:"resource_name"`
	Actions      []string        `json:"actions"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
}

// Summary groups changed resources by action for the report's plan
// summary section. Replaces are counted with updates.
type Summary struct {
	Create        []string
	UpdateReplace []UpdateEntry
	Delete        []string
}

// UpdateEntry is one updated or replaced resource address with its
// normalized action.
type UpdateEntry struct {
	Address string
	Action  Action
}

// Load reads the file at path and parses it as a plan export. The two
// failure modes are distinct: a missing file wraps ErrNotFound, anything
// that does not decode as a plan wraps ErrMalformed. Hard stop either way.
func Load(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("plan: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return &doc, nil
}

// Changes returns the normalized change list, excluding no-ops. This is
// the payload embedded in the analysis prompt.
func (d *Document) Changes() []ChangeSummary {
	out := make([]ChangeSummary, 0, len(d.ResourceChanges))
	for _, rc := range d.ResourceChanges {
		if rc.Kind() == ActionNoop {
			continue
		}
		out = append(out, ChangeSummary{
			Address:      rc.addressOrDerived(),
			ResourceType: rc.Type,
			ResourceName: rc.Name,
			Actions:      rc.Change.Actions,
			Before:       rc.Change.Before,
			After:        rc.Change.After,
		})
	}
	return out
}

// Summarize buckets changed resources by action kind.
func (d *Document) Summarize() Summary {
	var s Summary
	for _, rc := range d.ResourceChanges {
		addr := rc.addressOrDerived()
		switch rc.Kind() {
		case ActionCreate:
			s.Create = append(s.Create, addr)
		case ActionUpdate:
			s.UpdateReplace = append(s.UpdateReplace, UpdateEntry{Address: addr, Action: ActionUpdate})
		case ActionReplace:
			s.UpdateReplace = append(s.UpdateReplace, UpdateEntry{Address: addr, Action: ActionReplace})
		case ActionDelete:
			s.Delete = append(s.Delete, addr)
		}
	}
	return s
}

func (rc ResourceChange) addressOrDerived() string {
	if rc.Address != "" {
		return rc.Address
	}
	return rc.Type + "." + rc.Name
}
