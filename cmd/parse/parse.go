package parse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sagan/genmeta/cmd"
	"github.com/sagan/genmeta/cmd/common"
	"github.com/sagan/genmeta/constants"
	"github.com/sagan/genmeta/features/genmeta"
	"github.com/sagan/genmeta/features/imagemeta"
	"github.com/sagan/genmeta/util"
	"github.com/sagan/genmeta/util/helper"
	"github.com/sagan/genmeta/util/stringutil"
)

var parseCmd = &cobra.Command{
	Use:   "parse {file | dir | glob}...",
	Short: "Write A1111 style generation parameters (.txt) of AI generated images",
	Long: `Write A1111 style generation parameters (.txt) of AI generated images.

It reads the generation metadata embedded in each image (EXIF UserComment of .jpg / .webp,
text chunks of .png), resolves the referenced checkpoint / LoRAs / embeddings on Civitai,
and saves the normalized parameters to <basename>.txt file of the same dir:

  <positive prompt>, <lora:name:weight>...
  Negative prompt: <negative prompt>
  Steps: 20, Sampler: ..., Schedule type: Automatic, CFG scale: 7.0, Seed: 1, Size: 832x1216, ...

Args can be image files, dirs or glob patterns. In a dir only .jpg .jpeg .png .webp files are processed;
Use "--recursive" flag to also process sub dirs.
Images that already have a .txt file are skipped unless "--force" flag is set.

Catalog lookups are cached during the run and paced (see "--delay").
It requires no API key, but ` + constants.ENV_CIVITAI_API_KEY + ` env is used if set.

Examples:
  genmeta parse ./outputs
  genmeta parse -r --force ./outputs "./more/*.jpeg"
  genmeta parse --dry-run image.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: doParse,
}

var (
	flagForce         bool
	flagRecursive     bool
	flagDryRun        bool
	flagRequireMarker string
	flagCatalog       common.CatalogFlags
)

func init() {
	parseCmd.Flags().BoolVarP(&flagForce, "force", "", false, "Overwrite existing .txt files")
	parseCmd.Flags().BoolVarP(&flagRecursive, "recursive", "r", false, "Process sub dirs of dir args recursively")
	parseCmd.Flags().BoolVarP(&flagDryRun, "dry-run", "d", false,
		"Print the reports to stdout instead of writing .txt files")
	parseCmd.Flags().StringVarP(&flagRequireMarker, "require-marker", "", "",
		`Only process images whose metadata contains this string, e.g. "resource-stack" `+
			`to only process Civitai generator images`)
	flagCatalog.Register(parseCmd)
	cmd.RootCmd.AddCommand(parseCmd)
}

// Options control a parse run.
type Options struct {
	Force     bool
	Recursive bool
	DryRun    bool
	// Only images whose metadata contains it are processed, if not empty.
	RequireMarker string
	// Dry run reports are printed to it.
	Output io.Writer
	// Displayed file names are shortened to it, if > 0.
	NameWidth int
}

// Counters are the per image outcomes of a parse run.
// Errors also counts args that could not be listed.
type Counters struct {
	Files   int
	Written int
	Skipped int
	Errors  int
}

func doParse(cmd *cobra.Command, args []string) error {
	options := &Options{
		Force:         flagForce,
		Recursive:     flagRecursive,
		DryRun:        flagDryRun,
		RequireMarker: flagRequireMarker,
		Output:        os.Stdout,
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		if width, _, err := term.GetSize(int(os.Stderr.Fd())); err == nil {
			options.NameWidth = width / 2
		}
	}
	engine := flagCatalog.NewEngine()
	_, err := Run(cmd.Context(), engine, args, options)
	return err
}

// Run writes the report of every image of args (files, dirs or glob patterns).
// A failed image is counted and logged, and does not stop the run.
// The returned err is non-nil if ctx was canceled or any image failed.
func Run(ctx context.Context, engine *genmeta.Engine, args []string, options *Options) (*Counters, error) {
	files, errorCnt := helper.ListFiles(helper.ParseFilenameArgs(args...), options.Recursive, constants.ImageExts...)
	cnt := &Counters{Files: len(files), Errors: errorCnt}
	for i, file := range files {
		if ctx.Err() != nil {
			break
		}
		name := file
		if options.NameWidth > 0 {
			name = stringutil.Ellipsis(file, options.NameWidth)
		}
		prefix := fmt.Sprintf("[%d/%d] %s", i+1, len(files), name)
		skipped, err := processImage(ctx, engine, file, prefix, options)
		switch {
		case err != nil && ctx.Err() != nil:
			// interrupted; no error for this file
		case err != nil:
			log.Errorf("%s: ❌ %v", prefix, err)
			cnt.Errors++
		case skipped:
			cnt.Skipped++
		default:
			cnt.Written++
		}
	}

	stats := engine.Resolver().Stats()
	log.Infof("Done: %d images, %d written, %d skipped, %d errors. "+
		"Catalog: %d lookups (%d not found), %d cache hits",
		len(files), cnt.Written, cnt.Skipped, cnt.Errors, stats.Lookups, stats.NotFound, stats.Hits)
	if err := ctx.Err(); err != nil {
		return cnt, fmt.Errorf("interrupted: %w", err)
	}
	if cnt.Errors > 0 {
		return cnt, fmt.Errorf("%d errors", cnt.Errors)
	}
	return cnt, nil
}

// processImage writes the report of one image. It returns skipped = true if the image was
// deliberately not processed (existing output, no metadata, not matching marker).
func processImage(ctx context.Context, engine *genmeta.Engine, file string, prefix string,
	options *Options) (skipped bool, err error) {
	if !util.HasExt(file, constants.ImageExts...) {
		log.Warnf("%s: ⏩ SKIPPED (not a supported image)", prefix)
		return true, nil
	}
	output := util.ReplaceExt(file, constants.REPORT_EXT)
	if !options.Force && !options.DryRun {
		exists, err := util.FileExists(output)
		if err != nil {
			return false, err
		}
		if exists {
			log.Infof("%s: ⏩ SKIPPED (%s already exists)", prefix, filepath.Base(output))
			return true, nil
		}
	}

	metadata, err := imagemeta.Read(file)
	if err != nil {
		if errors.Is(err, imagemeta.ErrNoMetadata) {
			log.Infof("%s: ⏩ SKIPPED (no embedded metadata)", prefix)
			return true, nil
		}
		return false, err
	}
	if options.RequireMarker != "" && !strings.Contains(metadata.Text, options.RequireMarker) {
		log.Infof("%s: ⏩ SKIPPED (metadata has no %q)", prefix, options.RequireMarker)
		return true, nil
	}
	lookups, err := engine.CountLookups(metadata.Text)
	if err != nil {
		if errors.Is(err, genmeta.ErrUnparsableMetadata) {
			log.Warnf("%s: ⏩ SKIPPED (%v)", prefix, err)
			return true, nil
		}
		return false, err
	}
	log.Infof("%s: ⏳ %d catalog lookups", prefix, lookups)

	report, err := engine.Resolve(ctx, metadata.Text,
		genmeta.ImageSize{Width: metadata.Width, Height: metadata.Height}, file)
	if err != nil {
		return false, err
	}
	contents := report.Format()
	if options.DryRun {
		fmt.Fprintf(options.Output, "==> %s <==\n%s\n\n", output, contents)
		return false, nil
	}
	if err := atomic.WriteFile(output, strings.NewReader(contents)); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", output, err)
	}
	log.Infof("%s: ✅ %s", prefix, filepath.Base(output))
	return false, nil
}
