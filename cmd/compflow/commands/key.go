package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/compflow/pkg/compflow/cachekey"
)

func newKeyCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "key INPUT.json [INPUT.json...]",
		Short: "Print the cache key for each input",
		Long: `Print the cache key a run would use for each input, along with the
hash of each facet. Stages are not applied, so the key matches a run only
when the input already holds the final markup.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings()
			if err != nil {
				return printErr(a.stderr, "Cannot load configuration", err.Error())
			}
			g, err := cachekey.NewGenerator(s.Key.Options()...)
			if err != nil {
				return printErr(a.stderr, "Invalid key settings", err.Error())
			}

			inputs, err := readInputs(cmd.InOrStdin(), args)
			if err != nil {
				return printErr(a.stderr, "Cannot read input", err.Error())
			}

			keys := make([]cachekey.Key, 0, len(inputs))
			for _, in := range inputs {
				k, err := in.input.Key(g)
				if err != nil {
					return printErr(a.stderr, "Cannot derive key for "+in.name, err.Error())
				}
				keys = append(keys, k)
			}

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(keys)
			}
			for i, k := range keys {
				cyan.Fprintf(a.stdout, "%s\n", inputs[i].name)
				fmt.Fprintf(a.stdout, "  key        %s\n", k.Key)
				faint.Fprintf(a.stdout, "  algorithm  %s\n", k.Algorithm)
				faint.Fprintf(a.stdout, "  component  %s\n", k.ComponentHash)
				faint.Fprintf(a.stdout, "  context    %s\n", k.ContextHash)
				faint.Fprintf(a.stdout, "  options    %s\n", k.OptionsHash)
			}
			if len(keys) == 2 {
				if diff := keys[0].Diff(keys[1]); len(diff) > 0 {
					yellow.Fprintf(a.stdout, "differs in: %v\n", diff)
				} else {
					green.Fprintln(a.stdout, "keys match")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print keys as JSON")
	return cmd
}
