package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/phillip-england/ccmetrics/internal/blobstore"
	"github.com/phillip-england/ccmetrics/internal/workbook"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// catalogFile is the YAML layout accepted by "workbook seed".
type catalogFile struct {
	Categories []struct {
		Name    string `yaml:"name"`
		Metrics []struct {
			Name  string `yaml:"name"`
			Group string `yaml:"group"`
		} `yaml:"metrics"`
	} `yaml:"categories"`
}

type containerEnsurer interface {
	EnsureContainer(ctx context.Context) error
}

func newWorkbookCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workbook",
		Short: "Create, seed, back up and restore the metrics workbook",
	}
	cmd.AddCommand(
		newWorkbookInitCommand(a),
		newWorkbookSeedCommand(a),
		newWorkbookBackupCommand(a),
		newWorkbookRestoreCommand(a),
	)
	return cmd
}

func (a *app) store() (blobstore.Store, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(cfg.Storage)
}

func newWorkbookInitCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Upload an empty workbook with both sheets and their headers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.store()
			if err != nil {
				return err
			}
			if ensurer, ok := store.(containerEnsurer); ok {
				if err := ensurer.EnsureContainer(ctx); err != nil {
					return err
				}
			}
			if !force {
				_, err := store.Download(ctx)
				switch {
				case err == nil:
					return fmt.Errorf("%s already exists (use --force to replace it)", store.Name())
				case !errors.Is(err, blobstore.ErrNotFound):
					return err
				}
			}

			wb, err := workbook.New()
			if err != nil {
				return err
			}
			defer wb.Close()
			data, err := wb.Encode()
			if err != nil {
				return err
			}
			if err := store.Upload(ctx, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialised %s\n", store.Name())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing workbook")
	return cmd
}

func newWorkbookSeedCommand(a *app) *cobra.Command {
	var category, metric, group string
	cmd := &cobra.Command{
		Use:   "seed [catalog.yaml]",
		Short: "Add metric catalog entries from a YAML file or from flags",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := [][3]string{}
			if len(args) == 1 {
				loaded, err := readCatalogFile(args[0])
				if err != nil {
					return err
				}
				entries = append(entries, loaded...)
			}
			if category != "" || metric != "" {
				entries = append(entries, [3]string{category, metric, group})
			}
			if len(entries) == 0 {
				return errors.New("nothing to seed: pass a catalog file or --category and --metric")
			}

			ctx := cmd.Context()
			store, err := a.store()
			if err != nil {
				return err
			}
			added, err := seedCatalog(ctx, store, entries)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d catalog entries to %s\n", added, store.Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category name")
	cmd.Flags().StringVar(&metric, "metric", "", "metric name")
	cmd.Flags().StringVar(&group, "group", "", "metric group (defaults to Other)")
	return cmd
}

func readCatalogFile(path string) ([][3]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	var entries [][3]string
	for _, c := range file.Categories {
		for _, m := range c.Metrics {
			entries = append(entries, [3]string{c.Name, m.Name, m.Group})
		}
	}
	return entries, nil
}

// seedCatalog adds the (category, metric, group) entries the catalog does not
// already list and uploads the workbook once.
func seedCatalog(ctx context.Context, store blobstore.Store, entries [][3]string) (int, error) {
	data, err := store.Download(ctx)
	if err != nil {
		return 0, err
	}
	wb, err := workbook.Decode(store.Name(), data)
	if err != nil {
		return 0, err
	}
	defer wb.Close()

	catalog, err := wb.Catalog()
	if err != nil {
		return 0, err
	}
	added := 0
	for _, e := range entries {
		e[0], e[1] = strings.TrimSpace(e[0]), strings.TrimSpace(e[1])
		if slices.Contains(catalog.Metrics[e[0]], e[1]) {
			continue
		}
		if err := wb.AddCatalogEntry(e[0], e[1], e[2]); err != nil {
			return added, fmt.Errorf("add %s / %s: %w", e[0], e[1], err)
		}
		catalog.Metrics[e[0]] = append(catalog.Metrics[e[0]], e[1])
		added++
	}
	if added == 0 {
		return 0, nil
	}

	out, err := wb.Encode()
	if err != nil {
		return 0, err
	}
	return added, store.Upload(ctx, out)
}

func newWorkbookBackupCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <file.xlsx.xz>",
		Short: "Download the workbook into an xz-compressed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			data, err := store.Download(cmd.Context())
			if err != nil {
				return err
			}
			size, err := writeBackupFile(args[0], data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backed up %s to %s (%d bytes, %d compressed)\n", store.Name(), args[0], len(data), size)
			return nil
		},
	}
}

func newWorkbookRestoreCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file.xlsx.xz>",
		Short: "Upload a workbook from an xz-compressed backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readBackupFile(args[0])
			if err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			wb, err := workbook.Decode(store.Name(), data)
			if err != nil {
				return fmt.Errorf("backup is not a readable workbook: %w", err)
			}
			_ = wb.Close()

			if err := store.Upload(cmd.Context(), data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s from %s\n", store.Name(), args[0])
			return nil
		},
	}
}
