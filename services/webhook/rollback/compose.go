// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rollback

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// composeDocument is the subset of a compose file we care about: the
// service names and, for diagnostics, each service's image reference.
type composeDocument struct {
	Services map[string]struct {
		Image string `yaml:"image"`
	} `yaml:"services"`
}

// ListComposeServices returns the service names declared in a compose
// file, sorted for stable logging.
//
// # Description
//
// Used for drift diagnostics: when a rollback targets a service the
// compose file doesn't declare, the restart is guaranteed to fail at the
// CLI, and the executor wants to say so in its logs up front. Parsing
// failures are returned to the caller, who treats them as "unknown" rather
// than blocking the rollback — the compose CLI remains the authority.
func ListComposeServices(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}

	var doc composeDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse compose file: %w", err)
	}

	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ComposeDeclaresService reports whether the compose file declares the
// named service. The second return is false when the file could not be
// parsed, in which case the first return carries no meaning.
func ComposeDeclaresService(path, service string) (declared bool, known bool) {
	names, err := ListComposeServices(path)
	if err != nil {
		return false, false
	}
	for _, name := range names {
		if name == service {
			return true, true
		}
	}
	return false, true
}
