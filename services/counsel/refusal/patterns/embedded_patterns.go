// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file bridges the build system and the runtime detector. It uses the Go
embed package to bake refusal_patterns.yaml directly into the compiled binary,
so the refusal heuristics are immutable at runtime and travel with the
executable.
*/

package patterns

import (
	_ "embed"
)

// RefusalPatterns holds the raw byte content of 'refusal_patterns.yaml'.
//
// Populated at compile time via the Go 'embed' directive. Pass these bytes
// directly to yaml.Unmarshal.
//
//go:embed refusal_patterns.yaml
var RefusalPatterns []byte
