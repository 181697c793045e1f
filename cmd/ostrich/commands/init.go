package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shakenfist/ostrich/pkg/config"
	"github.com/shakenfist/ostrich/pkg/stores"
)

// samplePlan is written by init as a starting point.
const samplePlan = `# Stages run in order. Steps in a stage run in order unless a step names
# another step in "depends". String values are templates rendered when the
# stage is reached.
stages:
  - name: questions
    steps:
      - name: site-name
        type: question
        with:
          title: Site name
          help: Used to label this installation.
          prompt: Name

  # Context changes apply to the stages after the one that makes them.
  - name: settings
    steps:
      - name: settings
        type: kwargs
        with:
          set:
            cwd: /tmp
            max_attempts: 3

  - name: install
    steps:
      - name: hello
        type: command
        with:
          command: 'echo "installing {{ answer "site-name" }}"'
      - name: motd
        type: file-create
        with:
          path: ostrich-motd
          text: 'Installed by ostrich for {{ answer "site-name" }}'
        on_failure:
          type: command
          with:
            command: ls -l /tmp/ostrich-motd
`

func newInitCommand() *cobra.Command {
	var (
		planPath string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration, state directories and a sample plan",
		Long: `Write a configuration file with the default settings, create the state,
log and patch directories it names, prepare the execution journal and
write a sample plan to start from.

Existing files are left alone unless --force is given.`,
		Example: `  # Initialise with the default config location
  ostrich init

  # Initialise a project local setup
  ostrich init --config ./ostrich.yml --plan ./install.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().
				Str("config", configPath).
				Str("plan", planPath).
				Msg("Initializing ostrich")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			dirs := []string{cfg.StateDir, cfg.Logs.Dir, cfg.Patches.Dir, cfg.Patches.ArchiveDir}
			for _, dir := range dirs {
				if dir == "" {
					continue
				}
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Fprintln(out, successMsg("Created directory: %s", dir))
			}

			cfgData, err := cfg.Marshal()
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			if err := writeNew(config.ExpandPath(configPath), cfgData, force); err != nil {
				return err
			}
			fmt.Fprintln(out, successMsg("Wrote config: %s", configPath))

			if cfg.Journal.Enabled {
				journal, err := stores.OpenJournal(cmd.Context(), cfg.Journal.Path)
				if err != nil {
					return err
				}
				if err := journal.Close(); err != nil {
					return err
				}
				fmt.Fprintln(out, successMsg("Initialized journal: %s", cfg.Journal.Path))
			}

			if err := writeNew(planPath, []byte(samplePlan), force); err != nil {
				return err
			}
			fmt.Fprintln(out, successMsg("Wrote sample plan: %s", planPath))

			fmt.Fprintln(out)
			fmt.Fprintln(out, infoMsg("Next: ostrich run --plan %s", planPath))
			return nil
		},
	}

	cmd.Flags().StringVar(&planPath, "plan", "plan.yml", "where to write the sample plan")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

// writeNew writes data to path, refusing to replace an existing file
// unless force is set.
func writeNew(path string, data []byte, force bool) error {
	if !force {
		_, err := os.Stat(path)
		if err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
