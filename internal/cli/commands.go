package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/version/v2"
	"github.com/spf13/cobra"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/specialistvlad/mgmtcore/internal/transformers"
	"github.com/specialistvlad/mgmtcore/internal/typed"
	"github.com/zclconf/go-cty/cty"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Boot the model and serve /health, /metrics and /model until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := a.Run(ctx); err != nil {
				return &ExitError{Code: ExitFailed, Message: err.Error()}
			}
			return nil
		},
	}
	cmd.Flags().Int("http-port", 9990, "port of the management HTTP server; 0 disables it")
	return cmd
}

func newExecCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exec OPERATION ADDRESS [NAME=VALUE...]",
		Short: "Boot the model, execute one operation and print its result as JSON",
		Long: `Boot the model, execute one operation and print its result as JSON.

Parameter values are parsed as JSON when they are valid JSON and taken as
strings otherwise; strings containing ${...} become expressions.

  mgmtcore exec -b boot.hcl write-attribute /subsystem=web/listener=default name=max-connections value=50`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := parseOperation(args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			if err := a.Boot(cmd.Context()); err != nil {
				return &ExitError{Code: ExitFailed, Message: err.Error()}
			}
			return printResult(cmd, a.Execute(cmd.Context(), op))
		},
	}
}

func newDescribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe [ADDRESS]",
		Short: "Print the registered description of a resource type as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := address.Root()
			if len(args) == 1 {
				parsed, err := address.Parse(args[0])
				if err != nil {
					return usageError("%v", err)
				}
				addr = parsed
			}
			recursive, _ := cmd.Flags().GetBool("recursive")
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			op := controller.NewOperation(operations.ReadResourceDescription, addr, map[string]cty.Value{
				operations.ParamRecursive: cty.BoolVal(recursive),
			})
			return printResult(cmd, a.Execute(cmd.Context(), op))
		},
	}
	cmd.Flags().BoolP("recursive", "r", false, "include child resource types")
	return cmd
}

func newTransformCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform OPERATION ADDRESS [NAME=VALUE...]",
		Short: "Print an operation as it would be sent to a peer on older model versions",
		Long: `Print an operation as it would be sent to a peer on older model versions.

  mgmtcore transform -b boot.hcl --peer-version web=1.0.0 add /subsystem=web/listener=l2 buffer-size=4`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := parseOperation(args)
			if err != nil {
				return err
			}
			raw, _ := cmd.Flags().GetStringToString("peer-version")
			peer := make(transformers.PeerVersions, len(raw))
			for subsystem, v := range raw {
				n, err := version.Parse(v)
				if err != nil {
					return usageError("peer version of %s: %v", subsystem, err)
				}
				peer[subsystem] = n
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			tr, err := a.Transform(op, peer)
			if err != nil {
				return &ExitError{Code: ExitFailed, Message: err.Error()}
			}
			if tr.Discarded {
				return printValue(cmd, cty.ObjectVal(map[string]cty.Value{"discarded": cty.True}))
			}
			return printValue(cmd, tr.Operation.ToValue())
		},
	}
	cmd.Flags().StringToString("peer-version", nil, "model version of a peer subsystem, subsystem=version; repeatable")
	return cmd
}

// printResult writes the result as JSON and turns a failed outcome into an
// ExitError.
func printResult(cmd *cobra.Command, res controller.Result) error {
	if err := printValue(cmd, res.ToValue()); err != nil {
		return err
	}
	if !res.Succeeded() {
		return &ExitError{Code: ExitFailed, Message: res.FailureDescription}
	}
	return nil
}

func printValue(cmd *cobra.Command, v cty.Value) error {
	out, err := typed.MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
