package show

import (
	"fmt"
	"os"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/sagan/genmeta/cmd"
	"github.com/sagan/genmeta/cmd/common"
	"github.com/sagan/genmeta/constants"
	"github.com/sagan/genmeta/features/genmeta"
	"github.com/sagan/genmeta/features/imagemeta"
	"github.com/sagan/genmeta/util"
	"github.com/sagan/genmeta/util/helper"
)

var showCmd = &cobra.Command{
	Use:   "show {image}",
	Short: "Show the resolved generation parameters of an AI generated image",
	Long: `Show the resolved generation parameters of an AI generated image.

By default it outputs the A1111 style text, the same as "parse" writes to .txt file.
Use "--format json|yaml|toml" to output the structured report, which also has the resolved
resources (including embeddings) and the warnings.
Use "--schema" flag to print the JSON schema of the json format output instead.
Use "--template" flag to format the output; the template gets the report
(fields: .PositivePrompt, .NegativePrompt, .Params, .LoraHashes, .ImageSize, .Resources, .Warnings).

Examples:
  genmeta show image.jpeg
  genmeta show image.png --format yaml
  genmeta show image.png -t "{{.PositivePrompt}}"
  genmeta show --schema`,
	Args: cobra.RangeArgs(0, 1),
	RunE: doShow,
}

var (
	flagForce    bool
	flagSchema   bool
	flagFormat   string
	flagTemplate string
	flagOutput   string
	flagCatalog  common.CatalogFlags
)

func init() {
	showCmd.Flags().BoolVarP(&flagForce, "force", "", false, "Override existing output file")
	showCmd.Flags().BoolVarP(&flagSchema, "schema", "", false, "Print the JSON schema of the json format report")
	showCmd.Flags().StringVarP(&flagFormat, "format", "f", constants.FORMAT_TEXT, constants.HELP_FORMAT)
	showCmd.Flags().StringVarP(&flagTemplate, "template", "t", "", `Template to format the output. `+
		constants.HELP_TEMPLATE_FLAG)
	showCmd.Flags().StringVarP(&flagOutput, "output", "o", "-", `Output file path. Use "-" for stdout`)
	flagCatalog.Register(showCmd)
	cmd.RootCmd.AddCommand(showCmd)
}

func doShow(cmd *cobra.Command, args []string) (err error) {
	if flagOutput != "-" {
		if exists, err := util.FileExists(flagOutput); err != nil || (exists && !flagForce) {
			return fmt.Errorf("output file %q exists or can't access, err=%w", flagOutput, err)
		}
	}
	if flagSchema {
		data, err := util.Marshal(constants.FORMAT_JSON, genmeta.ReportSchema())
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("image arg is required")
	}
	var tpl *helper.Template
	if flagTemplate != "" {
		if tpl, err = helper.GetTemplate(flagTemplate, true); err != nil {
			return fmt.Errorf("invalid template: %w", err)
		}
	}
	metadata, err := imagemeta.Read(args[0])
	if err != nil {
		return err
	}
	engine := flagCatalog.NewEngine()
	report, err := engine.Resolve(cmd.Context(), metadata.Text,
		genmeta.ImageSize{Width: metadata.Width, Height: metadata.Height}, args[0])
	if err != nil {
		return err
	}

	output, err := render(report, tpl, flagFormat)
	if err != nil {
		return err
	}
	if flagOutput == "-" {
		_, err = os.Stdout.WriteString(output + "\n")
	} else {
		err = atomic.WriteFile(flagOutput, strings.NewReader(output))
	}
	return err
}

func render(report *genmeta.Report, tpl *helper.Template, format string) (string, error) {
	if tpl != nil {
		return tpl.Exec(report)
	}
	if format == constants.FORMAT_TEXT {
		return report.Format(), nil
	}
	data, err := util.Marshal(format, report)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}
