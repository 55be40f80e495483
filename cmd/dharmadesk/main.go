// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command dharmadesk runs the DharmaDesk counsel service.
//
// The service turns an ethical dilemma into a structured advisory brief
// grounded in Bhagavad Gita passages. It degrades rather than fails:
// retrieval outages, provider outages, and malformed model output all
// still produce a brief, with warnings attached.
//
// # Environment Variables
//
//   - DHARMADESK_PORT: HTTP listen port (default: 8000)
//   - WEAVIATE_SERVICE_URL: passage store URL (default: http://localhost:8080)
//   - OPENAI_API_KEY / ANTHROPIC_API_KEY / LLM_SERVICE_URL_BASE: provider chain
//   - GENERATION_STUB: replace the chain with the deterministic stub
//
// # Usage
//
//	dharmadesk serve
//	dharmadesk consult --title "Career move" --description "..."
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
