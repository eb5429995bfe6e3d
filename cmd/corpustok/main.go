// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command corpustok converts archived source projects into SourcererCC
// token and statistics files.
//
// Usage:
//
//	corpustok run --config tokenizer.yaml
//	corpustok run --config tokenizer.yaml --continue-ids --status-addr :9102
//	corpustok ledger --config tokenizer.yaml
//	corpustok version
//
// Example requests while a run is active with --status-addr:
//
//	curl http://localhost:9102/healthz
//	curl http://localhost:9102/v1/status | jq
//	curl http://localhost:9102/metrics
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
