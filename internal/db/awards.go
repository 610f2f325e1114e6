package db

import (
	"context"
	"fmt"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/david/contract-finder/internal/models"
)

const awardCols = `id, award_id, internal_id, recipient_name, agency, sub_agency, description,
	total_obligation, naics_code, award_date, period_start, period_end, enrichment_status,
	relevance_score, signals, transaction_count, subaward_count, created_at, updated_at`

// IncumbentFilter narrows the historical awards returned as incumbent intelligence.
type IncumbentFilter struct {
	Agency    string
	NAICSCode string
	MinAmount float64
	Limit     int
}

func scanAward(scan func(dest ...interface{}) error) (models.HistoricalAward, error) {
	var a models.HistoricalAward
	var internalID, subAgency, description, naics *string
	var signals string

	err := scan(
		&a.ID, &a.AwardID, &internalID, &a.RecipientName, &a.Agency, &subAgency, &description,
		&a.TotalObligation, &naics, &a.AwardDate, &a.PeriodStart, &a.PeriodEnd, &a.EnrichmentStatus,
		&a.RelevanceScore, &signals, &a.TransactionCount, &a.SubawardCount, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return a, err
	}

	a.InternalID = deref(internalID)
	a.SubAgency = deref(subAgency)
	a.Description = deref(description)
	a.NAICSCode = deref(naics)
	a.Signals = ParseListField(signals, []string{})
	return a, nil
}

// UpsertAward stores an award keyed by its award id and reports whether it was new.
func (s *Store) UpsertAward(ctx context.Context, a *models.HistoricalAward) (bool, error) {
	if a.EnrichmentStatus == "" {
		a.EnrichmentStatus = models.AwardEnrichmentPending
	}

	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO historical_awards (
			award_id, internal_id, recipient_name, agency, sub_agency, description,
			total_obligation, naics_code, award_date, period_start, period_end, enrichment_status,
			relevance_score, signals, transaction_count, subaward_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (award_id) DO UPDATE SET
			internal_id = COALESCE(EXCLUDED.internal_id, historical_awards.internal_id),
			recipient_name = EXCLUDED.recipient_name,
			agency = EXCLUDED.agency,
			sub_agency = COALESCE(EXCLUDED.sub_agency, historical_awards.sub_agency),
			description = COALESCE(EXCLUDED.description, historical_awards.description),
			total_obligation = EXCLUDED.total_obligation,
			naics_code = COALESCE(EXCLUDED.naics_code, historical_awards.naics_code),
			award_date = COALESCE(EXCLUDED.award_date, historical_awards.award_date),
			period_start = COALESCE(EXCLUDED.period_start, historical_awards.period_start),
			period_end = COALESCE(EXCLUDED.period_end, historical_awards.period_end),
			enrichment_status = EXCLUDED.enrichment_status,
			relevance_score = EXCLUDED.relevance_score,
			signals = EXCLUDED.signals,
			transaction_count = EXCLUDED.transaction_count,
			subaward_count = EXCLUDED.subaward_count,
			updated_at = NOW()
		RETURNING id, (xmax = 0), created_at, updated_at
	`,
		a.AwardID,
		nilIfEmpty(a.InternalID),
		a.RecipientName,
		a.Agency,
		nilIfEmpty(a.SubAgency),
		nilIfEmpty(a.Description),
		a.TotalObligation,
		nilIfEmpty(a.NAICSCode),
		a.AwardDate,
		a.PeriodStart,
		a.PeriodEnd,
		a.EnrichmentStatus,
		models.ClampScore(a.RelevanceScore),
		EncodeListField(a.Signals),
		a.TransactionCount,
		a.SubawardCount,
	).Scan(&a.ID, &inserted, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return false, apperr.Persistence("upsert award "+a.AwardID, err)
	}
	return inserted, nil
}

// StoredAwardCounts returns the counts of enriched awards among awardIDs,
// keyed by award id.
func (s *Store) StoredAwardCounts(ctx context.Context, awardIDs []string) (map[string]models.AwardCounts, error) {
	counts := make(map[string]models.AwardCounts)
	if len(awardIDs) == 0 {
		return counts, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT award_id, transaction_count, subaward_count FROM historical_awards
		WHERE award_id = ANY($1) AND enrichment_status = $2
	`, awardIDs, models.AwardEnrichmentEnriched)
	if err != nil {
		return nil, apperr.Persistence("stored award counts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var c models.AwardCounts
		if err := rows.Scan(&id, &c.Transactions, &c.Subawards); err != nil {
			return nil, apperr.Persistence("stored award counts", err)
		}
		counts[id] = c
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("stored award counts", err)
	}
	return counts, nil
}

// ListAwards returns awards at or above minScore, best first.
func (s *Store) ListAwards(ctx context.Context, minScore, limit int) ([]models.HistoricalAward, error) {
	if limit <= 0 {
		limit = 50
	}
	sql := fmt.Sprintf(`
		SELECT %s FROM historical_awards
		WHERE relevance_score >= $1
		ORDER BY relevance_score DESC, total_obligation DESC
		LIMIT $2
	`, awardCols)
	return s.queryAwards(ctx, "list awards", sql, minScore, limit)
}

// IncumbentAwards returns awards matching the agency/NAICS/amount filter.
func (s *Store) IncumbentAwards(ctx context.Context, f IncumbentFilter) ([]models.HistoricalAward, error) {
	where, args := buildIncumbentWhere(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	sql := fmt.Sprintf("SELECT %s FROM historical_awards %s ORDER BY total_obligation DESC, award_date DESC NULLS LAST LIMIT $%d",
		awardCols, where, len(args))
	return s.queryAwards(ctx, "incumbent awards", sql, args...)
}

func buildIncumbentWhere(f IncumbentFilter) (string, []interface{}) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	if f.Agency != "" {
		where += fmt.Sprintf(" AND (agency ILIKE $%d OR sub_agency ILIKE $%d)", argIdx, argIdx)
		args = append(args, "%"+f.Agency+"%")
		argIdx++
	}
	if f.NAICSCode != "" {
		where += fmt.Sprintf(" AND naics_code = $%d", argIdx)
		args = append(args, f.NAICSCode)
		argIdx++
	}
	if f.MinAmount > 0 {
		where += fmt.Sprintf(" AND total_obligation >= $%d", argIdx)
		args = append(args, f.MinAmount)
	}
	return where, args
}

// AllAwards returns every stored award, the candidate set for linking.
func (s *Store) AllAwards(ctx context.Context) ([]models.HistoricalAward, error) {
	sql := fmt.Sprintf("SELECT %s FROM historical_awards ORDER BY created_at", awardCols)
	return s.queryAwards(ctx, "all awards", sql)
}

func (s *Store) queryAwards(ctx context.Context, op, sql string, args ...interface{}) ([]models.HistoricalAward, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	defer rows.Close()

	awards := []models.HistoricalAward{}
	for rows.Next() {
		a, err := scanAward(rows.Scan)
		if err != nil {
			return nil, apperr.Persistence(op, err)
		}
		awards = append(awards, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(op, err)
	}
	return awards, nil
}
