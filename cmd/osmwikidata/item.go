package main

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"
)

var reQID = regexp.MustCompile(`^Q\d+$`)

func newItemCmd(configPath *string) *cobra.Command {
	var radius int
	var refresh bool
	cmd := &cobra.Command{
		Use:   "item <qid>",
		Short: "Find map elements matching one Wikidata item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qid := args[0]
			if !reQID.MatchString(qid) {
				return fmt.Errorf("invalid item id %q", qid)
			}
			a, err := newApp(cmd.Context(), *configPath, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			find := a.finder.Find
			if refresh {
				find = a.finder.Refresh
			}
			res, err := find(cmd.Context(), qid, radius)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().IntVarP(&radius, "radius", "r", 0, "search radius in meters (0 uses the configured radius)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "drop the cached element query before matching")
	return cmd
}
