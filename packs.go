package main

import (
	"context"
	"fmt"

	"github.com/maxpert/objectpack/cfg"
	"github.com/maxpert/objectpack/filter"
	"github.com/maxpert/objectpack/pack"
	"github.com/maxpert/objectpack/sqlstore"
	"github.com/rs/zerolog/log"
)

// buildPacks creates the table packs declared in the configuration,
// running their schema statements first
func buildPacks(ctx context.Context, db *sqlstore.DB, packs []cfg.PackConfiguration, paging cfg.PagingConfiguration) ([]pack.Pack, error) {
	out := make([]pack.Pack, 0, len(packs))
	for _, pc := range packs {
		if pc.Schema != "" {
			if _, err := db.Exec(ctx, pc.Schema); err != nil {
				return nil, fmt.Errorf("pack %s: schema: %w", pc.Name, err)
			}
		}
		p, err := buildPack(db, pc, paging)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("pack", pc.Name).
			Str("table", pc.Table).
			Bool("tree", pc.ParentField != "").
			Int("columns", len(pc.Columns)).
			Msg("Pack configured")
		out = append(out, p)
	}
	return out, nil
}

func buildPack(db *sqlstore.DB, pc cfg.PackConfiguration, paging cfg.PagingConfiguration) (pack.Pack, error) {
	var (
		tableColumns []string
		listColumns  []string
		columns      []pack.Column
		form         []pack.FormField
	)
	schema := filter.Fields{}

	for _, c := range pc.Columns {
		list := c.Type == "list"
		if list {
			listColumns = append(listColumns, c.DataIndex)
		} else {
			tableColumns = append(tableColumns, c.DataIndex)
		}

		col := pack.Column{
			DataIndex:  c.DataIndex,
			Header:     c.Header,
			Sortable:   c.Sortable && !list,
			Searchable: c.Searchable && !list,
		}
		if c.Filter {
			if list {
				return nil, fmt.Errorf("pack %s: list column %s can not be filtered", pc.Name, c.DataIndex)
			}
			if pc.FilterEngine == "menu" {
				col.Menu = &filter.MenuColumn{Type: menuType(c.Type)}
			} else {
				schema[c.DataIndex] = filter.Field{Type: fieldType(c.Type), Label: c.Header}
				f, err := filter.NewByField(schema, c.DataIndex)
				if err != nil {
					return nil, fmt.Errorf("pack %s: column %s: %w", pc.Name, c.DataIndex, err)
				}
				col.Filter = f
			}
		}
		columns = append(columns, col)

		if c.DataIndex != "id" && c.DataIndex != pc.ParentField && !list {
			form = append(form, pack.FormField{Name: c.DataIndex, Type: parserName(c.Type), Label: c.Header})
		}
	}
	if pc.ParentField != "" {
		tableColumns = append(tableColumns, pc.ParentField)
	}

	table, err := db.Table(sqlstore.TableOptions{
		Name:        pc.Table,
		Columns:     tableColumns,
		ListColumns: listColumns,
	})
	if err != nil {
		return nil, err
	}

	canDelete := pc.CanDelete
	opts := pack.Options{
		Name:          pc.Name,
		Model:         pc.Table,
		Title:         pc.Title,
		Source:        table,
		Columns:       columns,
		ListSortOrder: pc.ListSortOrder,
		PagingStart:   paging.Start,
		PagingLimit:   paging.Limit,
		ReadOnly:      pc.ReadOnly,
		Form:          form,
		CanDelete:     &canDelete,
	}
	if pc.ParentField != "" {
		return pack.NewTreeObjectPack(pack.TreeOptions{
			Options:           opts,
			ParentField:       pc.ParentField,
			LoadTreesOnSearch: true,
		})
	}
	return pack.NewObjectPack(opts)
}

func fieldType(t string) filter.FieldType {
	if t == "" {
		return filter.TextField
	}
	return filter.FieldType(t)
}

func menuType(t string) string {
	switch fieldType(t) {
	case filter.IntegerField, filter.FloatField, filter.DecimalField, filter.ForeignKey:
		return "numeric"
	case filter.DateField, filter.DateTimeField:
		return "date"
	case filter.BooleanField:
		return "boolean"
	}
	return "string"
}

func parserName(t string) string {
	switch fieldType(t) {
	case filter.IntegerField, filter.ForeignKey:
		return "int_or_none"
	case filter.FloatField, filter.DecimalField, filter.DateField, filter.DateTimeField, filter.TimeField, filter.BooleanField:
		return t
	}
	return "string"
}
