// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command abraxus runs experiment pairs through the kernel.
//
//	abraxus run                       # the built-in bicycle experiments
//	abraxus run -e experiments.yaml   # a custom catalogue
//	abraxus probe "what is trail?"    # one query, knowledge base untouched
//	abraxus serve                     # HTTP API on :12310
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, c := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := c.cleanup(); err == nil {
		err = cerr
	}
	if err != nil {
		newPrinter(root.ErrOrStderr(), false).Error(err)
		return ExitError
	}
	return ExitSuccess
}
