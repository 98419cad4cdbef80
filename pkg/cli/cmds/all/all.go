// Package all registers all console commands.
package all

import (
	_ "github.com/robotalks/retrospex/pkg/cli/cmds/detector"
	_ "github.com/robotalks/retrospex/pkg/cli/cmds/scanner"
)
