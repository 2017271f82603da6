package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/deepnoodle-ai/scriptbind/class"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type classInfo struct {
	Tag     uint32   `json:"tag"`
	Name    string   `json:"name"`
	Base    string   `json:"base,omitempty"`
	Members []string `json:"members"`
	Methods []string `json:"methods"`
}

func newClassesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classes",
		Short: "List the classes available to scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listClasses(cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringP("output", "o", "", "output format (text, json)")
	return cmd
}

func listClasses(out, logOut io.Writer) (err error) {
	rt, err := newRuntime(logOut)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); err == nil {
			err = cerr
		}
	}()

	var infos []classInfo
	for _, c := range class.Classes(rt.State()) {
		info := classInfo{
			Tag:     uint32(c.Info().Tag),
			Name:    c.Name(),
			Members: c.MemberNames(),
			Methods: c.MethodNames(),
		}
		if c.Info().Base != nil {
			info.Base = c.Info().Base.Name
		}
		infos = append(infos, info)
	}

	switch strings.ToLower(viper.GetString("output")) {
	case "json":
		data, err := getOutputJSON(infos)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", data)
		return err
	case "", "text":
		for _, info := range infos {
			name := bold(info.Name)
			if info.Base != "" {
				name += faint(" : " + info.Base)
			}
			fmt.Fprintf(out, "%s %s\n", name, faint(fmt.Sprintf("#%d", info.Tag)))
			fmt.Fprintf(out, "  members: %s\n", strings.Join(info.Members, ", "))
			fmt.Fprintf(out, "  methods: %s\n", strings.Join(info.Methods, ", "))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", viper.GetString("output"))
	}
}
