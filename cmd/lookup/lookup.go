package lookup

import (
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sagan/genmeta/cmd"
	"github.com/sagan/genmeta/cmd/common"
	"github.com/sagan/genmeta/constants"
	"github.com/sagan/genmeta/features/catalog"
	"github.com/sagan/genmeta/features/genmeta"
	"github.com/sagan/genmeta/util"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup {versionId | civitai-urn}...",
	Short: "Look up Civitai model versions",
	Long: `Look up Civitai model versions.

Args are model version ids, or AIR URNs like "urn:air:sdxl:lora:civitai:101055@128078".
It outputs the catalog entry (type, model name, version name and files) of each version.
In text format, each line is: <versionId>  <type>  <modelName> / <modelVersionName>  <AutoV3 hash>.

Examples:
  genmeta lookup 128078
  genmeta lookup urn:air:sdxl:checkpoint:civitai:101055@128078 --format yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: doLookup,
}

var (
	flagFormat  string
	flagCatalog common.CatalogFlags
)

func init() {
	lookupCmd.Flags().StringVarP(&flagFormat, "format", "f", constants.FORMAT_TEXT, constants.HELP_FORMAT)
	flagCatalog.Register(lookupCmd)
	cmd.RootCmd.AddCommand(lookupCmd)
}

type lookupResult struct {
	VersionId int64              `json:"modelVersionId" yaml:"modelVersionId" toml:"modelVersionId"`
	Info      *catalog.ModelInfo `json:"info" yaml:"info" toml:"info"`
}

func doLookup(cmd *cobra.Command, args []string) error {
	var ids []int64
	for _, arg := range args {
		id, ok := genmeta.ParseCivitaiUrn(arg)
		if !ok {
			if id = util.ParseInt[int64](arg, -1); id < 0 {
				return fmt.Errorf("invalid model version id %q", arg)
			}
		}
		ids = append(ids, id)
	}
	ids = util.UniqueSlice(ids)

	resolver := flagCatalog.NewResolver()
	errorCnt := 0
	var results []lookupResult
	for _, id := range ids {
		info, err := resolver.Resolve(cmd.Context(), id)
		if err != nil {
			if !errors.Is(err, catalog.ErrNotFound) {
				return err
			}
			// the cause of a failed lookup, if other than 404, is already logged by resolver.
			log.Errorf("%d: %v", id, err)
			errorCnt++
			continue
		}
		results = append(results, lookupResult{VersionId: id, Info: info})
	}

	var output string
	if flagFormat == constants.FORMAT_TEXT {
		var lines []string
		for _, result := range results {
			lines = append(lines, fmt.Sprintf("%d  %s  %s / %s  %s", result.VersionId, result.Info.ResourceType,
				result.Info.ModelName, result.Info.ModelVersionName, result.Info.Hash(catalog.HASH_AUTOV3)))
		}
		output = strings.Join(lines, "\n")
	} else {
		var data any = results
		if flagFormat == constants.FORMAT_TOML {
			// toml documents must be tables
			data = map[string]any{"versions": results}
		}
		contents, err := util.Marshal(flagFormat, data)
		if err != nil {
			return err
		}
		output = strings.TrimSuffix(string(contents), "\n")
	}
	if output != "" {
		fmt.Fprintln(os.Stdout, output)
	}
	if errorCnt > 0 {
		return fmt.Errorf("%d errors", errorCnt)
	}
	return nil
}
