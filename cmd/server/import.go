package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/fieldagent/internal/api"
	"github.com/ashureev/fieldagent/internal/identity"
	"github.com/ashureev/fieldagent/internal/store"
)

// agentSeed is one persona in an import file.
type agentSeed struct {
	Name         string `yaml:"name"`
	Purpose      string `yaml:"purpose"`
	Segment      string `yaml:"segment"`
	Knowledge    string `yaml:"knowledge"`
	SystemPrompt string `yaml:"system_prompt"`
}

type seedFile struct {
	Agents []agentSeed `yaml:"agents"`
}

// parseAgentSeeds unmarshals and validates an import file.
func parseAgentSeeds(data []byte) ([]agentSeed, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents: %w", err)
	}
	if len(f.Agents) == 0 {
		return nil, errors.New("parse agents: no agents defined")
	}
	for i, a := range f.Agents {
		if a.Name == "" || a.Purpose == "" {
			return nil, fmt.Errorf("parse agents: agent %d: name and purpose are required", i+1)
		}
	}
	return f.Agents, nil
}

func newImportAgentsCmd() *cobra.Command {
	var (
		ownerID string
		dbPath  string
	)

	cmd := &cobra.Command{
		Use:   "import-agents FILE",
		Short: "Create agents from a YAML file",
		Long:  "Creates one agent per entry under 'agents:' and prints each public link. Without --owner a new anonymous owner ID is generated.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			seeds, err := parseAgentSeeds(data)
			if err != nil {
				return err
			}

			if dbPath == "" {
				cfg, _, err := setupLogging()
				if err != nil {
					return err
				}
				dbPath = cfg.DBPath
			}
			if ownerID == "" {
				if ownerID, err = identity.NewOwnerID(); err != nil {
					return err
				}
			}

			repo, err := store.NewSQLite(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "owner: %s\n", ownerID)
			for _, s := range seeds {
				agent := api.NewAgent(ownerID, s.Name, s.Purpose, s.Segment, s.Knowledge, s.SystemPrompt)
				if err := repo.CreateAgent(cmd.Context(), agent); err != nil {
					return fmt.Errorf("create agent %q: %w", s.Name, err)
				}
				fmt.Fprintf(out, "%d\t%s\t%s\n", agent.ID, agent.Name, agent.Link)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "owner ID the agents belong to")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (defaults to DB_PATH)")
	return cmd
}
