package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/specialistvlad/mgmtcore/internal/app"
)

// Exit codes.
const (
	ExitFailed = 1
	ExitUsage  = 2
)

const (
	envPrefix      = "MGMTCORE"
	configFileName = "mgmtcore"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: ExitUsage, Message: fmt.Sprintf(format, args...)}
}

// NewRootCommand builds the mgmtcore command tree. Command output goes to
// outW; logs go to the command's error stream.
func NewRootCommand(outW io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "mgmtcore",
		Short: "Management kernel for a hierarchical resource model",
		Long: `mgmtcore boots a management model from HCL boot files and executes
operations against it: add, remove, write-attribute, read-resource and
the operations contributed by its subsystems.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError("%v", err)
	})

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "config file (default: ./mgmtcore.yaml if present)")
	pf.StringSliceP("boot", "b", nil, "boot file or directory of boot files; repeatable")
	pf.String("rules-dir", "", "directory of extra transformer rule files")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("trace-exporter", "none", "trace exporter: none or stdout")
	pf.Float64("trace-sample-rate", 1, "fraction of batches traced")
	pf.Int("queue-depth", 0, "write batches that may wait for the controller; 0 uses the default")
	pf.StringToStringP("property", "D", nil, "system property name=value; repeatable")
	pf.String("property-env-prefix", "MGMTCORE_PROP_", "environment variables with this prefix become system properties")

	root.AddCommand(
		newServeCommand(),
		newExecCommand(),
		newDescribeCommand(),
		newTransformCommand(),
	)
	return root
}

// loadConfig merges, lowest first: flag defaults, the config file,
// MGMTCORE_* environment variables and explicitly set flags.
func loadConfig(cmd *cobra.Command) (*app.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	// The repeatable flag is singular; the config key is the whole map.
	if err := v.BindPFlag("properties", cmd.Flags().Lookup("property")); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, usageError("reading config: %v", err)
		}
	}

	var raw app.Config
	if err := v.Unmarshal(&raw); err != nil {
		return nil, usageError("decoding config: %v", err)
	}
	cfg, err := app.NewConfig(raw)
	if err != nil {
		return nil, usageError("%v", err)
	}
	return cfg, nil
}

// newApp loads the configuration and builds the application.
func newApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.NewApp(cmd.ErrOrStderr(), cfg)
}
