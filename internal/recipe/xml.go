// Copyright 2025 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package recipe

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/restraint-harness/restraint/internal/types"
	"github.com/restraint-harness/restraint/internal/utils"
)

type xmlJob struct {
	XMLName    xml.Name       `xml:"job"`
	RecipeSets []xmlRecipeSet `xml:"recipeSet"`
}

type xmlRecipeSet struct {
	Recipes []xmlRecipe `xml:"recipe"`
}

type xmlRecipe struct {
	ID          string     `xml:"id,attr"`
	JobID       string     `xml:"job_id,attr"`
	RecipeSetID string     `xml:"recipe_set_id,attr"`
	Arch        string     `xml:"arch,attr"`
	Distro      string     `xml:"distro,attr"`
	Family      string     `xml:"family,attr"`
	Variant     string     `xml:"variant,attr"`
	Owner       string     `xml:"owner,attr"`
	Tasks       []xmlTask  `xml:"task"`
	Params      []xmlParam `xml:"params>param"`
	Roles       []xmlRole  `xml:"roles>role"`
}

type xmlTask struct {
	ID          string     `xml:"id,attr"`
	Name        string     `xml:"name,attr"`
	Status      string     `xml:"status,attr"`
	KeepChanges string     `xml:"keepchanges,attr"`
	Fetch       *xmlFetch  `xml:"fetch"`
	RPM         *xmlRPM    `xml:"rpm"`
	Params      []xmlParam `xml:"params>param"`
	Roles       []xmlRole  `xml:"roles>role"`
}

type xmlFetch struct {
	URL *string `xml:"url,attr"`
}

type xmlRPM struct {
	Name *string `xml:"name,attr"`
	Path *string `xml:"path,attr"`
}

type xmlParam struct {
	Name  *string `xml:"name,attr"`
	Value *string `xml:"value,attr"`
}

type xmlRole struct {
	Value   *string     `xml:"value,attr"`
	Systems []xmlSystem `xml:"system"`
}

type xmlSystem struct {
	Value string `xml:"value,attr"`
}

// Parse decodes a job document. recipeURI is the reporting base of the
// recipe and basePath the directory fetched tasks are unpacked below.
func Parse(r io.Reader, recipeURI, basePath string) (*types.Recipe, error) {
	var job xmlJob
	if err := xml.NewDecoder(r).Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to decode recipe: %w", err)
	}
	if len(job.RecipeSets) == 0 {
		return nil, fmt.Errorf("<recipeSet/> element not found")
	}
	if len(job.RecipeSets[0].Recipes) == 0 {
		return nil, fmt.Errorf("<recipe/> element not found")
	}
	xr := job.RecipeSets[0].Recipes[0]

	if !strings.HasSuffix(recipeURI, "/") {
		recipeURI += "/"
	}
	rec := &types.Recipe{
		ID:          xr.ID,
		JobID:       xr.JobID,
		RecipeSetID: xr.RecipeSetID,
		OSDistro:    xr.Distro,
		OSMajor:     xr.Family,
		OSVariant:   xr.Variant,
		OSArch:      xr.Arch,
		Owner:       xr.Owner,
		BasePath:    basePath,
		URI:         recipeURI,
	}

	var err error
	if rec.Params, err = parseParams(xr.Params); err != nil {
		return nil, fmt.Errorf("recipe %s has %w", rec.ID, err)
	}
	if rec.Roles, err = parseRoles(xr.Roles); err != nil {
		return nil, fmt.Errorf("recipe %s has %w", rec.ID, err)
	}
	for i, xt := range xr.Tasks {
		task, err := parseTask(xt, rec)
		if err != nil {
			return nil, err
		}
		task.Order = i
		rec.Tasks = append(rec.Tasks, task)
	}
	return rec, nil
}

func parseTask(xt xmlTask, rec *types.Recipe) (*types.Task, error) {
	if xt.ID == "" {
		return nil, fmt.Errorf("<task/> without id")
	}

	var (
		fetch types.FetchDescriptor
		path  string
	)
	switch {
	case xt.Fetch != nil:
		if xt.Fetch.URL == nil {
			return nil, fmt.Errorf("task %s has 'fetch' element without 'url' attribute", xt.ID)
		}
		u, err := url.Parse(*xt.Fetch.URL)
		if err != nil {
			return nil, fmt.Errorf("task %s has invalid fetch url: %w", xt.ID, err)
		}
		fetch = types.URLFetch{URL: u.String()}
		if path, err = utils.FetchPath(rec.BasePath, u.String()); err != nil {
			return nil, fmt.Errorf("task %s: %w", xt.ID, err)
		}
	case xt.RPM != nil:
		if xt.RPM.Name == nil {
			return nil, fmt.Errorf("task %s has 'rpm' element without 'name' attribute", xt.ID)
		}
		if xt.RPM.Path == nil {
			return nil, fmt.Errorf("task %s has 'rpm' element without 'path' attribute", xt.ID)
		}
		fetch = types.PackageFetch{Name: *xt.RPM.Name}
		path = *xt.RPM.Path
	default:
		return nil, fmt.Errorf("task %s has neither 'fetch' nor 'rpm' element", xt.ID)
	}

	task := types.NewTask(xt.ID, rec, fetch)
	task.Name = xt.Name
	task.Path = path
	task.KeepChanges, _ = strconv.ParseBool(xt.KeepChanges)

	var err error
	if task.Params, err = parseParams(xt.Params); err != nil {
		return nil, fmt.Errorf("task %s has %w", xt.ID, err)
	}
	if task.Roles, err = parseRoles(xt.Roles); err != nil {
		return nil, fmt.Errorf("task %s has %w", xt.ID, err)
	}

	// The server marks the first task Running as soon as the recipe starts,
	// so only terminal states are trusted.
	switch xt.Status {
	case "Completed", "Aborted", "Cancelled":
		task.Started = true
		task.Finished = true
	}
	return task, nil
}

func parseParams(xps []xmlParam) ([]types.Param, error) {
	var params []types.Param
	for _, xp := range xps {
		if xp.Name == nil {
			return nil, fmt.Errorf("'param' element without 'name' attribute")
		}
		if xp.Value == nil {
			return nil, fmt.Errorf("'param' element without 'value' attribute")
		}
		params = append(params, types.Param{Name: *xp.Name, Value: *xp.Value})
	}
	return params, nil
}

func parseRoles(xrs []xmlRole) ([]types.Role, error) {
	var roles []types.Role
	for _, xr := range xrs {
		if xr.Value == nil {
			return nil, fmt.Errorf("'role' element without 'value' attribute")
		}
		role := types.Role{Name: *xr.Value}
		for _, s := range xr.Systems {
			if s.Value != "" {
				role.Hosts = append(role.Hosts, s.Value)
			}
		}
		roles = append(roles, role)
	}
	return roles, nil
}
