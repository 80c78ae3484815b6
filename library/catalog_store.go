package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"go.uber.org/zap"
)

const tableCatalog = "catalog"

var catalogColumns = []interface{}{
	"id", "catalog_code", "call_number", "acquisition_date", "keywords", "editor_id",
	"theme_id", "title", "author", "publisher", "quantity",
}

func (d *Database) catalogSelect() *goqu.SelectDataset {
	return d.dialect.From(tableCatalog).Select(catalogColumns...).Prepared(true)
}

// AddBook inserts a catalog entry and returns its id.
func (d *Database) AddBook(ctx context.Context, e *CatalogEntry) (int64, error) {
	query, args, err := d.dialect.Insert(tableCatalog).Prepared(true).Rows(goqu.Record{
		"catalog_code":     e.CatalogCode,
		"call_number":      e.CallNumber,
		"acquisition_date": e.AcquisitionDate,
		"keywords":         e.Keywords,
		"editor_id":        e.EditorID,
		"theme_id":         e.ThemeID,
		"title":            e.Title,
		"author":           e.Author,
		"publisher":        e.Publisher,
		"quantity":         e.Quantity,
	}).ToSQL()
	if err != nil {
		return 0, d.fail("build add book", err)
	}
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, d.fail("add book", err, zap.String("catalog_code", e.CatalogCode))
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return 0, d.fail("add book", err)
	}
	return e.ID, nil
}

// GetBook fetches a catalog entry by id.
func (d *Database) GetBook(ctx context.Context, id int64) (*CatalogEntry, error) {
	query, args, err := d.catalogSelect().Where(goqu.C("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, d.fail("build get book", err)
	}
	var e CatalogEntry
	err = d.db.GetContext(ctx, &e, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, d.fail("get book", err, zap.Int64("book_id", id))
	}
	return &e, nil
}

// GetBookByCode fetches the first catalog entry carrying code.
func (d *Database) GetBookByCode(ctx context.Context, code string) (*CatalogEntry, error) {
	query, args, err := d.catalogSelect().Where(goqu.C("catalog_code").Eq(code)).
		Order(goqu.C("id").Asc()).Limit(1).ToSQL()
	if err != nil {
		return nil, d.fail("build get book by code", err)
	}
	var e CatalogEntry
	err = d.db.GetContext(ctx, &e, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %q: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, d.fail("get book by code", err, zap.String("catalog_code", code))
	}
	return &e, nil
}

// GetAllBooks lists the catalog ordered by id.
func (d *Database) GetAllBooks(ctx context.Context) ([]*CatalogEntry, error) {
	return d.selectBooks(ctx, "list books", d.catalogSelect().Order(goqu.C("id").Asc()))
}

// SearchBooks matches term against title, author, keywords and publisher.
func (d *Database) SearchBooks(ctx context.Context, term string) ([]*CatalogEntry, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return d.GetAllBooks(ctx)
	}
	pattern := "%" + term + "%"
	ds := d.catalogSelect().Where(goqu.Or(
		goqu.C("title").Like(pattern),
		goqu.C("author").Like(pattern),
		goqu.C("keywords").Like(pattern),
		goqu.C("publisher").Like(pattern),
	)).Order(goqu.C("id").Asc())
	return d.selectBooks(ctx, "search books", ds)
}

func (d *Database) selectBooks(ctx context.Context, op string, ds *goqu.SelectDataset) ([]*CatalogEntry, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, d.fail("build "+op, err)
	}
	books := []*CatalogEntry{}
	if err := d.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, d.fail(op, err)
	}
	return books, nil
}

// UpdateBook applies the non-nil fields of u to the entry with the given id.
func (d *Database) UpdateBook(ctx context.Context, id int64, u BookUpdate) error {
	rec := goqu.Record{}
	if u.Title != nil {
		rec["title"] = *u.Title
	}
	if u.Author != nil {
		rec["author"] = *u.Author
	}
	if u.Keywords != nil {
		rec["keywords"] = *u.Keywords
	}
	if u.Quantity != nil {
		rec["quantity"] = *u.Quantity
	}
	if u.CallNumber != nil {
		rec["call_number"] = *u.CallNumber
	}
	if len(rec) == 0 {
		_, err := d.GetBook(ctx, id)
		return err
	}

	query, args, err := d.dialect.Update(tableCatalog).Prepared(true).Set(rec).Where(goqu.C("id").Eq(id)).ToSQL()
	if err != nil {
		return d.fail("build update book", err)
	}
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return d.fail("update book", err, zap.Int64("book_id", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return d.fail("update book", err)
	}
	if n == 0 {
		return fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteBook removes a catalog entry. Loans and waitlist rows referencing its
// catalog code are kept.
func (d *Database) DeleteBook(ctx context.Context, id int64) error {
	query, args, err := d.dialect.Delete(tableCatalog).Prepared(true).Where(goqu.C("id").Eq(id)).ToSQL()
	if err != nil {
		return d.fail("build delete book", err)
	}
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return d.fail("delete book", err, zap.Int64("book_id", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return d.fail("delete book", err)
	}
	if n == 0 {
		return fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	return nil
}
