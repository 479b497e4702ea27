package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/m35/jpsxdec-sub004/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing psxav configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

You can redirect this output to a file to create a configuration template:

  psxav config dump > config.yaml

Environment variables use the PSXAV_ prefix and underscores for nesting.
Example: output.format -> PSXAV_OUTPUT_FORMAT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by its mapstructure tags.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}
		if d, ok := field.Interface().(time.Duration); ok {
			result[key] = d.String()
		} else if field.Kind() == reflect.Struct {
			result[key] = toMap(field.Interface())
		} else {
			result[key] = field.Interface()
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# psxav Configuration File")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# output.format: bitstream, mdec, png, bmp, jpg, avi:rgb, avi:yuv, avi:jyuv, avi:mjpg")
	fmt.Fprintln(out, "# input.sectors_per_frame accepts exact rationals such as 10 or 15/2")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Environment variable overrides:")
	fmt.Fprintln(out, "#   PSXAV_OUTPUT_DIR, PSXAV_OUTPUT_FORMAT")
	fmt.Fprintln(out, "#   PSXAV_DECODE_QUALITY, PSXAV_SYNC_EMULATE_AV")
	fmt.Fprintln(out, "#   PSXAV_LOGGING_LEVEL, PSXAV_LOGGING_FORMAT")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(yamlData))
	return nil
}
