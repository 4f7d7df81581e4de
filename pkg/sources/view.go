package sources

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// DefaultView is the relation exposed by the external records system.
const DefaultView = "vm_relacao_prof_x_estab_especialidade"

// OriginID is the column added to every view record holding its dedupe hash.
const OriginID = "id_origem"

// viewIdentity are the columns that identify one person-unit-role assignment.
var viewIdentity = []string{"Profissional", "Unidade de Saude", "Especialidade"}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ViewReader reads every row of an external view. Rows repeating the same assignment are dropped.
type ViewReader struct {
	db   database.Executor
	view string
}

func NewViewReader(db database.Executor, view string) *ViewReader {
	if view == "" {
		view = DefaultView
	}
	return &ViewReader{db: db, view: view}
}

func (v *ViewReader) Format() string { return FormatView }

func (v *ViewReader) Read(ctx context.Context) ([]models.RawRecord, error) {
	if !identifier.MatchString(v.view) {
		return nil, ferrors.NewSourceFormatErrorf(v.view, "invalid view name")
	}

	sb := database.NewSelectBuilder()
	sb.Select("*").From(v.view)
	query, args := sb.Build()

	rows, err := v.db.QueryxContext(ctx, query, args...)
	if err != nil {
		err = ferrors.FromDB(v.view, errors.Wrapf(err, "query view %s", v.view))
		if ferrors.IsConnectivityError(err) {
			return nil, err
		}
		return nil, ferrors.NewSourceFormatError(v.view, "cannot query view", err)
	}
	defer rows.Close()

	var (
		out  []models.RawRecord
		seen = map[string]bool{}
	)
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, ferrors.NewSourceFormatError(v.view, "cannot scan row", err)
		}
		fields := make(map[string]string, len(row)+1)
		for col, val := range row {
			fields[col] = cellText(val)
		}

		id := originID(fields)
		if seen[id] {
			continue
		}
		seen[id] = true
		fields[OriginID] = id

		out = append(out, models.RawRecord{Index: len(out) + 1, Source: v.view, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.FromDB(v.view, err)
	}
	return out, nil
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// originID hashes the identity columns, or every column when the view does not carry them.
func originID(fields map[string]string) string {
	cols := columnIndex(fields)
	parts := make([]string, 0, len(viewIdentity))
	for _, c := range viewIdentity {
		if name, ok := cols[normalizers.Key(c)]; ok {
			parts = append(parts, fields[name])
		}
	}
	if len(parts) == 0 {
		for _, name := range sortedKeys(fields) {
			parts = append(parts, fields[name])
		}
	}
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
