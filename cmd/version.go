package cmd

import (
	"fmt"
	"runtime"

	"grimm.is/flowmeta/internal/brand"
)

// RunVersion prints build information.
func RunVersion() {
	fmt.Fprintf(Stdout, "%s %s (commit %s, %s %s/%s)\n",
		brand.Name, brand.Version, brand.GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
