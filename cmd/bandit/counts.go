// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianBandit/services/bandit/ab"
)

// countsFile is the YAML layout accepted by --file.
type countsFile struct {
	Variants []ab.VariantCount `yaml:"variants"`
}

// readCounts decodes a counts file. Variant order is preserved.
func readCounts(r io.Reader) ([]ab.VariantCount, error) {
	var f countsFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("counts file: %w", ab.ErrEmptyInput)
		}
		return nil, fmt.Errorf("parse counts file: %w", err)
	}
	return f.Variants, nil
}
