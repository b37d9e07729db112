package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/doorman/config"
	"github.com/mohammad-safakhou/doorman/internal/query"
	"github.com/mohammad-safakhou/doorman/internal/telemetry"
	"github.com/spf13/cobra"
)

// pageOutput adds the derived pagination fields to a query.Page.
type pageOutput struct {
	query.Page
	Pages   int  `json:"pages"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

// queryFlags are shared by query and export.
type queryFlags struct {
	kind    string
	filters []string
	orderBy string
	sort    string
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "kind", "result", "query kind (result or distributed)")
	cmd.Flags().StringArrayVarP(&f.filters, "filter", "f", nil, "filter as kind=value, repeatable (node, query, action, status, timestamp)")
	cmd.Flags().StringVar(&f.orderBy, "order-by", "id", "order field (id or timestamp)")
	cmd.Flags().StringVar(&f.sort, "sort", "asc", "sort direction (asc or desc)")
}

func (f *queryFlags) parse() (query.QueryKind, []query.Filter, query.Order, error) {
	kind, err := query.ParseQueryKind(f.kind)
	if err != nil {
		return 0, nil, query.Order{}, err
	}
	filters, err := query.ParseFilters(f.filters)
	if err != nil {
		return 0, nil, query.Order{}, err
	}
	order, err := query.ParseOrder(f.orderBy, f.sort)
	if err != nil {
		return 0, nil, query.Order{}, err
	}
	return kind, filters, order, nil
}

func queryCMD() *cobra.Command {
	var qf queryFlags
	var page, perPage int
	var cfgPath string

	var cmd = &cobra.Command{
		Use:   "query",
		Short: "Run a filtered, paginated query over result logs or distributed results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger := log.New(log.Writer(), "[QUERY] ", log.LstdFlags)

			kind, filters, order, err := qf.parse()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			tel := telemetry.New(cfg.Telemetry)
			defer func() {
				if perr := tel.Push(context.WithoutCancel(ctx)); perr != nil {
					logger.Printf("%v", perr)
				}
			}()
			engine := &query.Engine{Store: st, Observer: tel}
			start := time.Now()
			p, err := engine.Execute(ctx, query.Request{
				Kind:    kind,
				Filters: filters,
				Page:    page,
				PerPage: cfg.Query.ClampPerPage(perPage),
				Order:   order,
			})
			if err != nil {
				return fmt.Errorf("%s query: %w", kind, err)
			}
			if cfg.General.Verbose() {
				logger.Printf("%s query with %d filters: %d/%d items in %s", kind, len(filters), len(p.Items), p.Total, time.Since(start))
			}
			return printJSON(cmd.OutOrStdout(), pageOutput{Page: p, Pages: p.Pages(), HasNext: p.HasNext(), HasPrev: p.HasPrev()})
		},
	}
	qf.register(cmd)
	cmd.Flags().IntVar(&page, "page", 1, "1-based page number")
	cmd.Flags().IntVar(&perPage, "per-page", 0, "items per page (0 = configured default)")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
