package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/schovi/qrun/internal/profile"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List tool profiles",
	RunE:  runProfiles,
}

var profilesJsonFlag bool

func init() {
	profilesCmd.Flags().BoolVar(&profilesJsonFlag, "json", false, "Output as JSON")
}

func runProfiles(cmd *cobra.Command, args []string) error {
	catalog, err := profile.Load(profilesPath())
	if err != nil {
		return err
	}

	var list []profile.Profile
	for _, name := range catalog.Names() {
		p, _ := catalog.Get(name)
		list = append(list, p)
	}

	if profilesJsonFlag {
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if src := catalog.Source(); src != "" {
		fmt.Printf("# from %s\n", src)
	}
	for _, p := range list {
		channel := p.ProgressChannel
		if channel == "" {
			channel = "both"
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", p.Name, channel, strings.Join(p.Args, " "), p.Description)
	}
	return nil
}
