package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabload/internal/core"
	"github.com/JonMunkholm/tabload/internal/descriptor"
	"github.com/JonMunkholm/tabload/internal/schema"
	"github.com/JonMunkholm/tabload/internal/store/mysql"
	"github.com/JonMunkholm/tabload/internal/store/postgres"
	"github.com/JonMunkholm/tabload/internal/store/sqlite"
	"github.com/JonMunkholm/tabload/internal/store/sqlstore"
)

var describeCmd = &cobra.Command{
	Use:   "describe <descriptor|directory>",
	Short: "Show the tables a package would create",
	Long: `Describe derives the table definition of every resource without touching a
store, and prints the columns with the CREATE TABLE statement of a dialect.

Examples:
  tabload describe ./s-and-p-500-companies
  tabload describe --dialect mysql datapackage.yaml
  tabload describe --json ./pkg`,
	Args: cobra.ExactArgs(1),
	RunE: runDescribe,
}

var describeFlags struct {
	dialect string
	json    bool
}

// ddlDialects renders a definition as CREATE TABLE for each SQL driver.
var ddlDialects = map[string]func(schema.TableDefinition) string{
	"postgres": postgres.CreateTableSQL,
	"sqlite":   func(def schema.TableDefinition) string { return sqlstore.CreateTableSQL(sqlite.Dialect{}, def) },
	"mysql":    func(def schema.TableDefinition) string { return sqlstore.CreateTableSQL(mysql.Dialect{}, def) },
}

func init() {
	rootCmd.AddCommand(describeCmd)

	describeCmd.Flags().StringVar(&describeFlags.dialect, "dialect", "postgres", "DDL dialect: postgres, sqlite, mysql")
	describeCmd.Flags().BoolVar(&describeFlags.json, "json", false, "Print the definitions as JSON")
}

func resetDescribeFlags() {
	describeFlags.dialect = "postgres"
	describeFlags.json = false
}

type describedResource struct {
	Resource   string                  `json:"resource"`
	Definition *schema.TableDefinition `json:"definition,omitempty"`
	DDL        string                  `json:"ddl,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

func runDescribe(cmd *cobra.Command, args []string) error {
	ddl, ok := ddlDialects[describeFlags.dialect]
	if !ok {
		return fmt.Errorf("invalid argument %q for --dialect: must be postgres, sqlite or mysql", describeFlags.dialect)
	}

	pkg, err := descriptor.LocalSource{}.Open(cmdContext(cmd), args[0])
	if err != nil {
		return err
	}

	plans := core.Plan(pkg.Descriptor)
	out := make([]describedResource, len(plans))
	for i, p := range plans {
		out[i] = describedResource{Resource: p.Resource}
		if p.Err != nil {
			out[i].Error = p.Err.Error()
			continue
		}
		def := p.Definition
		out[i].Definition = &def
		out[i].DDL = ddl(def)
	}

	if describeFlags.json {
		return printJSON(cmd.OutOrStdout(), out)
	}

	styles := plainStyles()
	if styledOutput(os.Stdout) {
		styles = defaultReportStyles()
	}
	name := pkg.Descriptor.Name
	if name == "" {
		name = filepath.Base(pkg.Root)
	}
	printDescribed(cmd.OutOrStdout(), name, out, styles)
	return nil
}

func printDescribed(w io.Writer, name string, resources []describedResource, styles reportStyles) {
	fmt.Fprintln(w, styles.Title.Render(name))
	for _, r := range resources {
		fmt.Fprintln(w)
		if r.Error != "" {
			fmt.Fprintf(w, "%s %s\n", r.Resource, styles.Failed.Render(r.Error))
			continue
		}
		fmt.Fprintf(w, "%s -> %s\n", r.Resource, r.Definition.Name)

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, c := range r.Definition.Columns {
			source := c.Source
			if c.Identity {
				source = "(identity)"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", c.Name, c.Type, source)
		}
		tw.Flush()

		for _, warn := range r.Definition.Warnings {
			fmt.Fprintln(w, styles.Partial.Render("  warning: "+warn))
		}
		fmt.Fprintln(w, styles.Muted.Render(r.DDL))
	}
}
