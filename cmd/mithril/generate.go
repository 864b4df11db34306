package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
)

func newGenerateCmd() *cobra.Command {
	var (
		dir     string
		dialect string
		format  string
		pkg     string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the schema offline",
		Long: `Run the generator over the definitions without touching a database and
print one of its outputs:

  ddl     CREATE TABLE / CREATE INDEX script for --dialect
  json    table specifications
  config  flattened field configs
  go      Go type descriptions in package --package`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.DefinitionsDir
			}

			defs, err := schema.LoadDefinitions(dir)
			if err != nil {
				return err
			}
			res, err := schema.Generate(defs, logger)
			if err != nil {
				return err
			}

			data, err := render(res, format, dialect, pkg)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("creating %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			_, err = w.Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "definitions", "", "definitions directory (default from config)")
	cmd.Flags().StringVar(&dialect, "dialect", "postgres", "SQL dialect for ddl: postgres or sqlite")
	cmd.Flags().StringVar(&format, "format", "ddl", "output: ddl, json, config or go")
	cmd.Flags().StringVar(&pkg, "package", "content", "package name for go output")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to a file instead of stdout")
	return cmd
}

func render(res *schema.Result, format, dialect, pkg string) ([]byte, error) {
	switch format {
	case "ddl":
		d, err := database.DialectByName(dialect)
		if err != nil {
			return nil, err
		}
		return []byte(schema.RenderDDL(res.Tables, d)), nil
	case "json":
		return schema.MarshalTables(res.Tables)
	case "config":
		return schema.MarshalConfigs(res.Configs)
	case "go":
		return schema.RenderGo(pkg, res.Types)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
