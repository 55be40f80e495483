// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	logDir   string
	jsonLogs bool
	quiet    bool

	// consult flags
	consultTitle       string
	consultDescription string
	consultRole        string
	consultHorizon     string
	consultFile        string
	consultStub        bool

	rootCmd = &cobra.Command{
		Use:   "dharmadesk",
		Short: "DharmaDesk ethical consultation service",
		Long: `DharmaDesk turns an ethical dilemma into a structured advisory
brief grounded in Bhagavad Gita passages, with graceful degradation
when retrieval or generation dependencies are unavailable.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the counsel HTTP server",
		RunE:  runServe, // Defined in serve.go
	}

	consultCmd = &cobra.Command{
		Use:   "consult",
		Short: "Run a single consultation and print the brief as JSON",
		RunE:  runConsult, // Defined in consult.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "directory for JSON log files (empty disables file logging)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON instead of text on stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress stderr logging")

	consultCmd.Flags().StringVar(&consultTitle, "title", "", "short caption of the dilemma")
	consultCmd.Flags().StringVar(&consultDescription, "description", "", "the dilemma itself")
	consultCmd.Flags().StringVar(&consultRole, "role", "", "the seeker's role in the situation")
	consultCmd.Flags().StringVar(&consultHorizon, "horizon", "", "decision time horizon")
	consultCmd.Flags().StringVar(&consultFile, "file", "", "read the consultation request from a JSON file ('-' for stdin)")
	consultCmd.Flags().BoolVar(&consultStub, "stub", false, "force the deterministic stub provider")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consultCmd)
}
