package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/deepnoodle-ai/scriptbind"
	"github.com/deepnoodle-ai/scriptbind/modules/geom"
	"github.com/deepnoodle-ai/scriptbind/modules/regexp"
	"github.com/deepnoodle-ai/scriptbind/modules/strings"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	lua "github.com/yuin/gopher-lua"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run a script and print its result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := getCode(cmd, args)
			if err != nil {
				return err
			}
			return run(cmd.OutOrStdout(), cmd.ErrOrStderr(), code)
		},
	}
	cmd.Flags().StringP("code", "c", "", "code to run")
	cmd.Flags().Bool("stdin", false, "read code from stdin")
	cmd.Flags().Bool("no-stdlib", false, "run without the standard script libraries")
	return cmd
}

func getCode(cmd *cobra.Command, args []string) (string, error) {
	codeFlagSet := cmd.Flags().Changed("code")
	stdinFlagSet := cmd.Flags().Changed("stdin")
	pathSupplied := len(args) > 0
	if pathSupplied && (codeFlagSet || stdinFlagSet) {
		return "", errors.New("multiple input sources specified")
	} else if codeFlagSet && stdinFlagSet {
		return "", errors.New("multiple input sources specified")
	}
	if stdinFlagSet {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		return string(data), nil
	} else if pathSupplied {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if code := viper.GetString("code"); code != "" {
		return code, nil
	}
	return "", errors.New("no code supplied")
}

func newRuntime(logOut io.Writer) (*scriptbind.Runtime, error) {
	logger, err := newLogger(logOut)
	if err != nil {
		return nil, err
	}
	opts := []scriptbind.Option{
		scriptbind.WithLogger(logger),
		scriptbind.WithModule(geom.Bind),
		scriptbind.WithModule(regexp.Bind),
		scriptbind.WithModule(strings.Bind),
	}
	if viper.GetBool("no-stdlib") {
		opts = append(opts, scriptbind.WithoutStdlib())
	}
	return scriptbind.New(opts...)
}

func run(out, logOut io.Writer, code string) (err error) {
	rt, err := newRuntime(logOut)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.Close())
	}()
	lv, err := rt.EvalValue(code)
	if err != nil {
		return err
	}
	if lv == lua.LNil {
		return nil
	}
	_, err = fmt.Fprintln(out, rt.State().ToStringMeta(lv).String())
	return err
}
