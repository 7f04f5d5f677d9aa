package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentpool/internal/agent"
)

var presetsJSON bool

var presetsCmd = &cobra.Command{
	Use:   "presets [name]",
	Short: "List permission presets, or show one in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPresets,
}

func init() {
	presetsCmd.Flags().BoolVar(&presetsJSON, "json", false, "Print presets as JSON")
}

func runPresets(cmd *cobra.Command, args []string) error {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}
	_, presets, err := loadConfig(dir)
	if err != nil {
		return err
	}

	list := presets.List()
	if len(args) == 1 {
		p, err := presets.Get(args[0])
		if err != nil {
			return err
		}
		list = []*agent.Preset{p}
	}

	out := cmd.OutOrStdout()
	if presetsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	for i, p := range list {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprint(out, agent.Describe(p))
	}
	return nil
}
