package readmeta

import (
	"fmt"
	"os"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/sagan/genmeta/cmd"
	"github.com/sagan/genmeta/constants"
	"github.com/sagan/genmeta/features/genmeta"
	"github.com/sagan/genmeta/features/imagemeta"
	"github.com/sagan/genmeta/util"
	"github.com/sagan/genmeta/util/helper"
)

var readmetaCmd = &cobra.Command{
	Use:   "readmeta {image}",
	Short: "Print the raw generation metadata embedded in an image",
	Long: `Print the raw generation metadata embedded in an image.

It outputs the embedded text (EXIF UserComment or PNG text chunk) as is, without any catalog lookup.
Use "--template" flag to format the output. The template can access ".text", ".source",
".width", ".height" and ".data" (the parsed JSON object, if the text is JSON) fields;
for Civitai generator images, ".extra" is the decoded "extraMetadata" object.

Examples:
  genmeta readmeta image.jpeg
  genmeta readmeta image.png -t "{{.data.6.inputs.text}}"
  genmeta readmeta image.jpeg -t "{{.extra.prompt}}"`,
	Args: cobra.ExactArgs(1),
	RunE: doReadmeta,
}

var (
	flagForce    bool
	flagTemplate string
	flagOutput   string
)

func init() {
	readmetaCmd.Flags().BoolVarP(&flagForce, "force", "", false, "Override existing file")
	readmetaCmd.Flags().StringVarP(&flagTemplate, "template", "t", "", `Template to format the output. `+
		constants.HELP_TEMPLATE_FLAG)
	readmetaCmd.Flags().StringVarP(&flagOutput, "output", "o", "-", `Output file path. Use "-" for stdout`)
	cmd.RootCmd.AddCommand(readmetaCmd)
}

func doReadmeta(cmd *cobra.Command, args []string) (err error) {
	if flagOutput != "-" {
		if exists, err := util.FileExists(flagOutput); err != nil || (exists && !flagForce) {
			return fmt.Errorf("output file %q exists or can't access, err=%w", flagOutput, err)
		}
	}
	metadata, err := imagemeta.Read(args[0])
	if err != nil {
		return err
	}

	output := metadata.Text
	if flagTemplate != "" {
		tmpl, err := helper.GetTemplate(flagTemplate, false)
		if err != nil {
			return fmt.Errorf("invalid template: %w", err)
		}
		data := map[string]any{
			"text":   metadata.Text,
			"source": metadata.Source,
			"width":  metadata.Width,
			"height": metadata.Height,
		}
		if doc, err := genmeta.Detect(metadata.Text); err == nil {
			data["data"] = doc.Root
			data["schema"] = doc.Schema.String()
			if doc.Extra != nil {
				data["extra"] = doc.Extra
			}
		} else {
			data["data"] = nil
		}
		if output, err = tmpl.Exec(data); err != nil {
			return err
		}
	}
	if flagOutput == "-" {
		_, err = os.Stdout.WriteString(output + "\n")
	} else {
		err = atomic.WriteFile(flagOutput, strings.NewReader(output))
	}
	return err
}
