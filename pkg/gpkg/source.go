package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"
	"go.uber.org/multierr"

	"github.com/pdok/tilevec/feature"
)

var (
	ErrNoGeometryTable = errors.New("no geometry table in GeoPackage")
	ErrNoExtent        = errors.New("no extent in gpkg_contents")
)

type sourceColumn struct {
	cid       int
	name      string
	ctype     string
	notnull   int
	dfltValue *string
	pk        int
}

type sourceTable struct {
	name    string
	columns []sourceColumn
	gcolumn string
	srsID   int
}

// Source reads the features of the first geometry table of an existing GeoPackage.
type Source struct {
	handle *gpkg.Handle
	table  sourceTable
}

// OpenSource opens an existing GeoPackage, it fails when there is no file at path.
func OpenSource(path string) (*Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("error opening source GeoPackage: %w", err)
	}
	handle, err := gpkg.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening source GeoPackage %s: %w", path, err)
	}
	source := &Source{handle: handle}
	source.table, err = firstTable(handle)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("%s: %w", path, err), handle.Close())
	}
	return source, nil
}

func (source *Source) Close() error {
	return source.handle.Close()
}

// Layer is the name of the table read from.
func (source *Source) Layer() string {
	return source.table.name
}

// SRID is the spatial reference system id of the geometry column.
func (source *Source) SRID() int {
	return source.table.srsID
}

// Extent is the extent of the table as registered in gpkg_contents.
func (source *Source) Extent() (geom.Extent, error) {
	var minX, minY, maxX, maxY sql.NullFloat64
	row := source.handle.QueryRow(`SELECT min_x, min_y, max_x, max_y FROM gpkg_contents WHERE table_name = ?;`, source.table.name)
	if err := row.Scan(&minX, &minY, &maxX, &maxY); err != nil {
		return geom.Extent{}, fmt.Errorf("error reading the extent of %s: %w", source.table.name, err)
	}
	if !minX.Valid || !minY.Valid || !maxX.Valid || !maxY.Valid {
		return geom.Extent{}, fmt.Errorf("%w: %s", ErrNoExtent, source.table.name)
	}
	return geom.Extent{minX.Float64, minY.Float64, maxX.Float64, maxY.Float64}, nil
}

// ReadFeatures sends all features in fid order to the channel and closes it when done.
func (source *Source) ReadFeatures(ctx context.Context, features chan<- feature.Feature) (err error) {
	defer close(features)

	rows, err := source.handle.QueryContext(ctx, source.table.selectSQL())
	if err != nil {
		return fmt.Errorf("error reading %s: %w", source.table.name, err)
	}
	defer func() {
		err = multierr.Append(err, rows.Close())
	}()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("error reading the columns: %w", err)
	}

	for rows.Next() {
		vals := make([]interface{}, len(cols))
		valPtrs := make([]interface{}, len(cols))
		for i := range cols {
			valPtrs[i] = &vals[i]
		}
		if err = rows.Scan(valPtrs...); err != nil {
			return fmt.Errorf("err reading row values: %w", err)
		}

		f := feature.Feature{Properties: make(map[string]interface{}, len(cols))}
		for i, colName := range cols {
			switch colName {
			case source.table.gcolumn:
				if vals[i] == nil {
					continue
				}
				raw, ok := vals[i].([]byte)
				if !ok {
					return fmt.Errorf("geometry column %s holds a %T", colName, vals[i])
				}
				sb, err := gpkg.DecodeGeometry(raw)
				if err != nil {
					return fmt.Errorf("error decoding the geometry: %w", err)
				}
				f.Geometry = sb.Geometry
			case source.table.pkColumn():
				// the feature id is not an attribute
			default:
				v, err := columnValue(colName, source.table.columnType(colName), vals[i])
				if err != nil {
					return err
				}
				f.Properties[colName] = v
			}
		}

		select {
		case features <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return rows.Err()
}

// Decode reads back all features of a GeoPackage written by Encode.
func Decode(path string) (feature.Batch, error) {
	source, err := OpenSource(path)
	if err != nil {
		return nil, err
	}
	features := make(chan feature.Feature)
	readErr := make(chan error, 1)
	go func() {
		readErr <- source.ReadFeatures(context.Background(), features)
	}()
	batch, collectErr := feature.Collect(features)
	if collectErr != nil {
		// drain so ReadFeatures can finish and close the channel
		for range features {
		}
	}
	return batch, multierr.Combine(collectErr, <-readErr, source.Close())
}

func (t sourceTable) columnType(name string) string {
	for _, c := range t.columns {
		if c.name == name {
			return c.ctype
		}
	}
	return ""
}

func (t sourceTable) pkColumn() string {
	for _, c := range t.columns {
		if c.pk == 1 {
			return c.name
		}
	}
	return ""
}

// selectSQL builds a SELECT statement on all columns of the table
func (t sourceTable) selectSQL() string {
	csql := ""
	for i, c := range t.columns {
		if i > 0 {
			csql += `,`
		}
		csql += quote(c.name)
	}
	query := `SELECT ` + csql + ` FROM ` + quote(t.name)
	if pk := t.pkColumn(); pk != "" {
		query += ` ORDER BY ` + quote(pk)
	}
	return query + `;`
}

func firstTable(h *gpkg.Handle) (sourceTable, error) {
	var t sourceTable
	row := h.QueryRow(`SELECT table_name, column_name, srs_id FROM gpkg_geometry_columns ORDER BY table_name LIMIT 1;`)
	if err := row.Scan(&t.name, &t.gcolumn, &t.srsID); err != nil {
		return t, fmt.Errorf("%w: %w", ErrNoGeometryTable, err)
	}
	var err error
	t.columns, err = getTableColumns(h, t.name)
	return t, err
}

// getTableColumns collects the column information of a given table
func getTableColumns(h *gpkg.Handle, table string) (columns []sourceColumn, err error) {
	rows, err := h.Query(fmt.Sprintf(`PRAGMA table_info(%s);`, quote(table)))
	if err != nil {
		return nil, fmt.Errorf("error getting the columns of %s: %w", table, err)
	}
	defer func() {
		err = multierr.Append(err, rows.Close())
	}()

	for rows.Next() {
		var c sourceColumn
		if err := rows.Scan(&c.cid, &c.name, &c.ctype, &c.notnull, &c.dfltValue, &c.pk); err != nil {
			return nil, fmt.Errorf("error getting the column information: %w", err)
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}
