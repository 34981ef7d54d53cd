package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"slsdispatch/pkg/db"
	gos3 "slsdispatch/pkg/s3"
	"slsdispatch/services/matcher"
	"slsdispatch/services/naming"
	"slsdispatch/services/reports"
	"slsdispatch/services/store"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "slsctl",
		Short:         "Operator utilities for the SLS dispatch server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newCanonicalizeCommand())
	cmd.AddCommand(newMatchCommand())
	cmd.AddCommand(newRulesCommand())
	cmd.AddCommand(newReportCommand())
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

type ruleFlags struct {
	yamlPath string
	xlsxPath string
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.yamlPath, "rules-yaml", os.Getenv("RULES_YAML"), "YAML rule overrides")
	cmd.Flags().StringVar(&f.xlsxPath, "rules-xlsx", os.Getenv("RULES_XLSX"), "Naming workbook")
}

func (f *ruleFlags) canonicalizer(ctx context.Context) (*naming.Canonicalizer, error) {
	return naming.New(ctx, naming.FileLoader{YAMLPath: f.yamlPath, XLSXPath: f.xlsxPath}, zerolog.Nop())
}

func newCanonicalizeCommand() *cobra.Command {
	var (
		rules ruleFlags
		attrs naming.Attributes
		size  float64
	)

	cmd := &cobra.Command{
		Use:   "canonicalize",
		Short: "Print the canonical filename for a set of order attributes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("size") {
				attrs.Size = &size
			}
			if err := attrs.Validate(); err != nil {
				return err
			}
			c, err := rules.canonicalizer(commandContext(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.Canonicalize(attrs))
			return nil
		},
	}

	rules.register(cmd)
	cmd.Flags().StringVar(&attrs.Category, "category", "", "Item category, e.g. ER")
	cmd.Flags().StringVar(&attrs.Design, "design", "", "Design name")
	cmd.Flags().StringVar(&attrs.Stone, "stone", "", "Stone shape")
	cmd.Flags().StringVar(&attrs.Metal, "metal", "", "Metal, e.g. 14k White Gold")
	cmd.Flags().Float64Var(&size, "size", 0, "Ring size")
	return cmd
}

func newMatchCommand() *cobra.Command {
	var (
		corpusPath string
		bucket     string
		prefix     string
		withLinks  bool
	)

	cmd := &cobra.Command{
		Use:   "match <filename>",
		Short: "Score a canonical filename against the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			var cfg matcher.Config
			if corpusPath != "" {
				cfg.Corpus = matcher.CSVCorpus{Path: corpusPath}
			}
			if bucket != "" {
				client, err := gos3.NewClientFromEnv()
				if err != nil {
					return fmt.Errorf("s3 client: %w", err)
				}
				archive, err := matcher.NewArchive(client, bucket, prefix, time.Minute)
				if err != nil {
					return err
				}
				cfg.Searcher = archive
				if withLinks {
					links, err := matcher.NewPresignedLinks(client, bucket, 10*time.Minute)
					if err != nil {
						return err
					}
					cfg.Links = links
				}
			}

			matches, mode := matcher.NewService(cfg, zerolog.Nop()).Suggest(ctx, args[0])
			return printMatches(cmd.OutOrStdout(), mode, matches)
		},
	}

	cmd.Flags().StringVar(&corpusPath, "corpus", os.Getenv("CORPUS_CSV"), "CSV export of the archive (Directory,Filename[,Size])")
	cmd.Flags().StringVar(&bucket, "bucket", os.Getenv("S3_BUCKET"), "S3 bucket holding the archive")
	cmd.Flags().StringVar(&prefix, "prefix", os.Getenv("S3_PREFIX"), "Key prefix inside the archive bucket")
	cmd.Flags().BoolVar(&withLinks, "links", false, "Attach presigned download links")
	return cmd
}

func printMatches(w io.Writer, mode matcher.Mode, matches []matcher.Match) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "# mode: %s\n", mode)
	fmt.Fprintln(tw, "SCORE\tFILENAME\tPATH\tSIZE\tLINK")
	for _, m := range matches {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", m.Score, m.Filename, m.Path, m.Size, m.TempLink)
	}
	return tw.Flush()
}

func newRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Filename rule table operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var rules ruleFlags
	check := &cobra.Command{
		Use:   "check",
		Short: "Load the rule sources and print entry counts per bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := naming.FileLoader{YAMLPath: rules.yamlPath, XLSXPath: rules.xlsxPath}.Load(commandContext(cmd))
			if err != nil {
				return err
			}
			counts := rs.Counts()
			for _, b := range naming.Buckets {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d\n", b, counts[b])
			}
			return nil
		},
	}
	rules.register(check)

	cmd.AddCommand(check)
	return cmd
}

func newReportCommand() *cobra.Command {
	var (
		dsn      string
		rangeArg string
		date     string
		interval time.Duration
		output   string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the utilization CSV from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rng, err := reports.ParseRange(rangeArg)
			if err != nil {
				return err
			}
			today := time.Now()
			if date != "" {
				today, err = time.ParseInLocation(time.DateOnly, date, time.Local)
				if err != nil {
					return fmt.Errorf("parse --date: %w", err)
				}
			}

			pool, err := db.Open(ctx, dsn)
			if err != nil {
				return err
			}
			defer pool.Close()
			source, err := store.NewPostgres(pool)
			if err != nil {
				return err
			}
			builder, err := reports.NewBuilder(source, interval)
			if err != nil {
				return err
			}
			lines, err := builder.Build(ctx, rng, today)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return reports.WriteCSV(out, lines)
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", os.Getenv("DB_DSN"), "PostgreSQL DSN")
	cmd.Flags().StringVar(&rangeArg, "range", "daily", "daily, weekly or monthly")
	cmd.Flags().StringVar(&date, "date", "", "Day inside the reported range (YYYY-MM-DD, default today)")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "Agent heartbeat interval")
	cmd.Flags().StringVar(&output, "output", "-", "Destination file, - for stdout")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			pool, err := db.Open(ctx, dsn)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", os.Getenv("DB_DSN"), "PostgreSQL DSN")
	return cmd
}
