// Package all registers every sub command on the root command.
package all

import (
	_ "github.com/sagan/genmeta/cmd/lookup"
	_ "github.com/sagan/genmeta/cmd/parse"
	_ "github.com/sagan/genmeta/cmd/readmeta"
	_ "github.com/sagan/genmeta/cmd/show"
)
