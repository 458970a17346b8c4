package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/service"
)

// SaveRawData appends imported rows.
func (s *SQLiteStorage) SaveRawData(ctx context.Context, rows []model.RawDataRow) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRawData(rows); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO raw_data (tenant_id, period_id, data_type, entity_id, group_key, row_data)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare raw data insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range rows {
			data, err := marshalJSON(rows[i].Data)
			if err != nil {
				return err
			}
			res, err := stmt.ExecContext(ctx, rows[i].TenantID, rows[i].PeriodID, rows[i].DataType,
				nullString(rows[i].EntityID), nullString(rows[i].GroupKey), data)
			if err != nil {
				return fmt.Errorf("failed to save raw data row %d: %w", i, err)
			}
			if id, err := res.LastInsertId(); err == nil {
				rows[i].ID = id
			}
		}
		return nil
	})
}

// ListRawData reads one page of raw rows in insertion order.
func (s *SQLiteStorage) ListRawData(ctx context.Context, filter service.RawDataFilter) ([]model.RawDataRow, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(filter.TenantID, "filter.TenantID"); err != nil {
		return nil, err
	}

	where, args := rawDataWhere(filter)
	args = append(args, pageLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, period_id, data_type, entity_id, group_key, row_data
		FROM raw_data `+where+`
		ORDER BY id
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw data: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.RawDataRow
	for rows.Next() {
		var (
			r        model.RawDataRow
			entityID sql.NullString
			groupKey sql.NullString
			data     string
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.PeriodID, &r.DataType, &entityID, &groupKey, &data); err != nil {
			return nil, fmt.Errorf("failed to scan raw data: %w", err)
		}
		r.EntityID = entityID.String
		r.GroupKey = groupKey.String
		if r.Data, err = decodeRowData(data); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// CountRawData counts the rows a filter would read, ignoring pagination.
func (s *SQLiteStorage) CountRawData(ctx context.Context, filter service.RawDataFilter) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	where, args := rawDataWhere(filter)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_data `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count raw data: %w", err)
	}
	return count, nil
}

// DeleteRawData removes one import scope so it can be replaced.
func (s *SQLiteStorage) DeleteRawData(ctx context.Context, tenantID, periodID, dataType string) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return 0, err
	}
	if err := validateString(periodID, "periodID"); err != nil {
		return 0, err
	}
	if err := validateString(dataType, "dataType"); err != nil {
		return 0, err
	}

	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM raw_data WHERE tenant_id = ? AND period_id = ? AND data_type = ?
		`, tenantID, periodID, dataType)
		if err != nil {
			return fmt.Errorf("failed to delete raw data: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

func rawDataWhere(filter service.RawDataFilter) (string, []any) {
	clauses := []string{"tenant_id = ?"}
	args := []any{filter.TenantID}
	if filter.PeriodID != "" {
		clauses = append(clauses, "period_id = ?")
		args = append(args, filter.PeriodID)
	}
	if filter.DataType != "" {
		clauses = append(clauses, "data_type = ?")
		args = append(args, filter.DataType)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// decodeRowData keeps numbers as json.Number so amounts reach the decimal
// parser without a float round trip.
func decodeRowData(data string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: row_data: %w", ErrCorruptColumn, err)
	}
	return out, nil
}
