// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharmadesk/dharmadesk/services/counsel/datatypes"
)

// runConsult executes one consultation against the configured stack and
// prints the resulting brief as indented JSON. Degraded dependencies
// still produce a brief; warnings appear in the output.
func runConsult(cmd *cobra.Command, args []string) error {
	req, err := consultRequest()
	if err != nil {
		return err
	}

	stack, err := buildStack(consultStub)
	if err != nil {
		return err
	}
	defer stack.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	result := stack.orchestrator.Run(ctx, req)

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// consultRequest builds the request from --file when given, otherwise
// from the individual flags.
func consultRequest() (datatypes.ConsultationRequest, error) {
	var req datatypes.ConsultationRequest

	if consultFile != "" {
		var data []byte
		var err error
		if consultFile == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(consultFile)
		}
		if err != nil {
			return req, fmt.Errorf("read request: %w", err)
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parse request: %w", err)
		}
	} else {
		req.Title = consultTitle
		req.Description = consultDescription
		req.Role = consultRole
		req.Horizon = consultHorizon
	}

	if req.Title == "" || req.Description == "" {
		return req, errors.New("a consultation needs both --title and --description (or --file)")
	}
	return req, nil
}
