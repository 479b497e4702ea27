package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m35/jpsxdec-sub004/internal/audio"
	"github.com/m35/jpsxdec-sub004/internal/config"
	"github.com/m35/jpsxdec-sub004/internal/disc"
	"github.com/m35/jpsxdec-sub004/internal/mdec"
	"github.com/m35/jpsxdec-sub004/internal/naming"
	"github.com/m35/jpsxdec-sub004/internal/observability"
	"github.com/m35/jpsxdec-sub004/internal/progress"
	"github.com/m35/jpsxdec-sub004/internal/saver"
	"github.com/m35/jpsxdec-sub004/internal/source"
	"github.com/m35/jpsxdec-sub004/internal/version"
)

var saveCmd = &cobra.Command{
	Use:   "save <frame-dir>",
	Short: "Decode and save a video item",
	Long: `Save a video item read from a frame-dump directory.

Each regular file in the directory is one compressed frame, in name order.
Frames may be gzip, bzip2 or xz compressed (detected by content) or brotli
compressed (.br extension). Frames are laid out on a synthetic disc
--sectors-per-frame apart, starting at --start-sector, and an optional file
of raw XA audio sector payloads is interleaved with them.

Output formats: ` + formatList() + `

Examples:
  psxav save ./frames --format avi:mjpg --audio ./frames.xa
  psxav save ./frames --format png --naming sector --out ./png`,
	Args: cobra.ExactArgs(1),
	RunE: runSave,
}

func formatList() string {
	formats := saver.Formats()
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

func init() {
	rootCmd.AddCommand(saveCmd)

	f := saveCmd.Flags()
	// Output flags
	f.StringP("out", "o", ".", "Output directory")
	f.StringP("format", "f", "avi:mjpg", "Output format")
	f.String("naming", "index", "Frame file naming for sequences (index, sector)")
	f.Int("jpeg-quality", 90, "JPEG quality for jpg and avi:mjpg (1-100)")
	f.Bool("save-audio", true, "Save the item's audio")
	f.String("audio-format", "wav", "Audio file format for image sequences (wav, aiff)")

	// Decode flags
	f.String("quality", "high", "Decoder quality (high, fast)")
	f.String("yuv", "rec601", "Level convention for avi:yuv (rec601, jfif)")
	f.Bool("emulate-av", false, "Emulate the PlayStation's audio/video sync rounding")

	// Input flags
	f.String("sectors-per-frame", "10", "Exact sectors per frame, e.g. 10 or 15/2")
	f.Int("width", 320, "Frame width in pixels")
	f.Int("height", 240, "Frame height in pixels")
	f.Int("disc-speed", 2, "Disc speed (1, 2, or 0 when unknown)")
	f.Int("audio-rate", 37800, "XA audio sample rate")
	f.Bool("audio-stereo", true, "XA audio is stereo")

	// Per-item flags, not part of the config file
	f.String("name", "", "Base name for output files (default is the directory name)")
	f.String("audio", "", "File of XA audio sector payloads to interleave")
	f.Int("start-sector", 0, "Sector number of the first frame")
	f.Bool("dry-run", false, "Print the save summary without writing anything")
	f.Duration("progress-interval", 2*time.Second, "Minimum time between progress log lines")

	mustBindPFlag("output.dir", f.Lookup("out"))
	mustBindPFlag("output.format", f.Lookup("format"))
	mustBindPFlag("output.naming", f.Lookup("naming"))
	mustBindPFlag("output.jpeg_quality", f.Lookup("jpeg-quality"))
	mustBindPFlag("output.save_audio", f.Lookup("save-audio"))
	mustBindPFlag("output.audio_format", f.Lookup("audio-format"))
	mustBindPFlag("decode.quality", f.Lookup("quality"))
	mustBindPFlag("decode.yuv_convention", f.Lookup("yuv"))
	mustBindPFlag("sync.emulate_av", f.Lookup("emulate-av"))
	mustBindPFlag("input.sectors_per_frame", f.Lookup("sectors-per-frame"))
	mustBindPFlag("input.width", f.Lookup("width"))
	mustBindPFlag("input.height", f.Lookup("height"))
	mustBindPFlag("input.disc_speed", f.Lookup("disc-speed"))
	mustBindPFlag("input.audio_rate", f.Lookup("audio-rate"))
	mustBindPFlag("input.audio_stereo", f.Lookup("audio-stereo"))
	mustBindPFlag("logging.progress_interval", f.Lookup("progress-interval"))
}

// saveOptions maps the loaded configuration onto saver options.
func saveOptions(cfg *config.Config) (saver.Options, error) {
	var opts saver.Options
	var err error

	if opts.Format, err = saver.ParseFormat(cfg.Output.Format); err != nil {
		return opts, err
	}
	if opts.Naming, err = naming.ParseScheme(cfg.Output.Naming); err != nil {
		return opts, err
	}
	if opts.Quality, err = mdec.ParseQuality(cfg.Decode.Quality); err != nil {
		return opts, err
	}
	if opts.Convention, err = mdec.ParseConvention(cfg.Decode.YUVConvention); err != nil {
		return opts, err
	}
	if opts.AudioFormat, err = audio.ParseFormat(cfg.Output.AudioFormat); err != nil {
		return opts, err
	}
	opts.OutputDir = cfg.Output.Dir
	opts.JPEGQuality = cfg.Output.JPEGQuality
	opts.SaveAudio = cfg.Output.SaveAudio
	opts.EmulateAV = cfg.Sync.EmulateAV
	opts.Software = version.Software()
	return opts, nil
}

// newReporter creates the progress reporter for saving the named item.
func newReporter(logger *slog.Logger, name string, interval time.Duration) *progress.LogReporter {
	r := progress.NewLogReporter(logger, "save "+name)
	r.SetThrottle(interval)
	return r
}

func runSave(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}
	opts, err := saveOptions(cfg)
	if err != nil {
		return err
	}
	spf, err := disc.ParseRat(cfg.Input.SectorsPerFrame)
	if err != nil {
		return fmt.Errorf("input.sectors_per_frame: %w", err)
	}

	dir := args[0]
	flags := cmd.Flags()
	name, _ := flags.GetString("name")
	if name == "" {
		name = filepath.Base(filepath.Clean(dir))
	}
	audioPath, _ := flags.GetString("audio")
	startSector, _ := flags.GetInt("start-sector")
	dryRun, _ := flags.GetBool("dry-run")

	sps := 150
	if cfg.Input.DiscSpeed == 1 {
		sps = 75
	}
	src, err := source.Open(dir, source.Options{
		StartSector:      startSector,
		SectorsPerFrame:  spf,
		SectorsPerSecond: sps,
		AudioPath:        audioPath,
		AudioRate:        cfg.Input.AudioRate,
		AudioStereo:      cfg.Input.AudioStereo,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("opening %s: %w", dir, err)
	}
	defer src.Close()

	item := src.Item(name, cfg.Input.Width, cfg.Input.Height, cfg.Input.DiscSpeed)
	reporter := newReporter(logger, name, cfg.Logging.ProgressInterval)
	s, err := saver.MakeSaver(item, src, opts, saver.Deps{Reporter: reporter, Logger: logger})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, s.Summary())
	if dryRun {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := s.Run(ctx)
	for _, f := range res.Files {
		fmt.Fprintln(out, f)
	}
	if res.Err != nil {
		observability.WithError(logger, res.Err).Error("save failed",
			slog.Int("frames", res.Frames),
			slog.Int("files", len(res.Files)),
		)
		return res.Err
	}
	return nil
}
