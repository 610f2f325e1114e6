package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/david/contract-finder/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type ListParams struct {
	Status    string
	Flagged   *bool
	Dismissed *bool
	MinScore  int
	BatchID   string
	Limit     int
	Offset    int
}

type ListResult struct {
	Opportunities []models.Opportunity `json:"opportunities"`
	Total         int                  `json:"total"`
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
}

// selectCols is the column list shared by every opportunity read.
const selectCols = `id, notice_id, solicitation_number, title, description, agency, notice_type,
	naics_codes, psc_codes, set_asides, posted_at, response_deadline, ui_link,
	keywords, relevance_score, signals, pipeline_status, batch_id, errors,
	flagged, flagged_by, flagged_at, ignored, ignored_by, ignored_at,
	dismissed, dismissed_by, dismissed_at, dismissed_reason, verified, verified_by, verified_at,
	ai_summary, ai_key_requirements, ai_keywords, ai_strengths, ai_concerns, ai_fit_score,
	ai_service_category, ai_recommended_actions, ai_analyzed_at,
	likelihood_score, likelihood_confidence, likelihood_reasoning, likelihood_strengths,
	likelihood_concerns, likelihood_risk_factors, likelihood_recommendations, likelihood_at,
	version, created_at, updated_at`

// mainTrackStatusExpr derives the discovered → linked status of a row from
// its links and AI fields.
const mainTrackStatusExpr = `CASE
		WHEN EXISTS (SELECT 1 FROM award_links l WHERE l.opportunity_id = opportunities.id) THEN 'linked'
		WHEN ai_analyzed_at IS NOT NULL OR likelihood_at IS NOT NULL THEN 'enriched'
		ELSE 'scored'
	END`

// progressStatusExpr recomputes the status of a row that is leaving the
// flagged or ignored branch. A verified row stays verified.
const progressStatusExpr = `CASE
		WHEN verified THEN 'verified'
		ELSE ` + mainTrackStatusExpr + `
	END`

func scanOpportunity(scan func(dest ...interface{}) error) (models.Opportunity, error) {
	var o models.Opportunity
	var solNum, description, agency, noticeType, uiLink, batchID *string
	var naics, psc, setAsides, keywords, signals, errs string
	var status string
	var flaggedBy, ignoredBy, dismissedBy, dismissedReason, verifiedBy *string

	var aiSummary, aiReqs, aiKeywords, aiStrengths, aiConcerns, aiCategory, aiActions *string
	var aiFit *int
	var aiAt *time.Time

	var lkScore *int
	var lkConfidence *float64
	var lkReasoning, lkStrengths, lkConcerns, lkRisks, lkRecs *string
	var lkAt *time.Time

	err := scan(
		&o.ID, &o.NoticeID, &solNum, &o.Title, &description, &agency, &noticeType,
		&naics, &psc, &setAsides, &o.PostedAt, &o.ResponseDeadline, &uiLink,
		&keywords, &o.RelevanceScore, &signals, &status, &batchID, &errs,
		&o.Flagged, &flaggedBy, &o.FlaggedAt, &o.Ignored, &ignoredBy, &o.IgnoredAt,
		&o.Dismissed, &dismissedBy, &o.DismissedAt, &dismissedReason, &o.Verified, &verifiedBy, &o.VerifiedAt,
		&aiSummary, &aiReqs, &aiKeywords, &aiStrengths, &aiConcerns, &aiFit,
		&aiCategory, &aiActions, &aiAt,
		&lkScore, &lkConfidence, &lkReasoning, &lkStrengths,
		&lkConcerns, &lkRisks, &lkRecs, &lkAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	o.SolicitationNumber = deref(solNum)
	o.Description = deref(description)
	o.Agency = deref(agency)
	o.NoticeType = deref(noticeType)
	o.UILink = deref(uiLink)
	o.BatchID = deref(batchID)
	o.NAICSCodes = ParseListField(naics, []string{})
	o.PSCCodes = ParseListField(psc, []string{})
	o.SetAsides = ParseListField(setAsides, []string{})
	o.Keywords = ParseListField(keywords, []string{})
	o.Signals = ParseListField(signals, []string{})
	o.Errors = ParseListField(errs, []string{})
	o.PipelineStatus = models.PipelineStatus(status)
	o.FlaggedBy = deref(flaggedBy)
	o.IgnoredBy = deref(ignoredBy)
	o.DismissedBy = deref(dismissedBy)
	o.DismissedReason = deref(dismissedReason)
	o.VerifiedBy = deref(verifiedBy)

	if aiAt != nil {
		o.Analysis = &models.AIAnalysis{
			Summary:            deref(aiSummary),
			KeyRequirements:    parseNullableList(aiReqs),
			Keywords:           parseNullableList(aiKeywords),
			Strengths:          parseNullableList(aiStrengths),
			Concerns:           parseNullableList(aiConcerns),
			ServiceCategory:    deref(aiCategory),
			RecommendedActions: parseNullableList(aiActions),
			GeneratedAt:        *aiAt,
		}
		if aiFit != nil {
			o.Analysis.FitScore = *aiFit
		}
	}

	if lkAt != nil {
		o.Likelihood = &models.AwardLikelihood{
			Reasoning:       deref(lkReasoning),
			Strengths:       parseNullableList(lkStrengths),
			Concerns:        parseNullableList(lkConcerns),
			RiskFactors:     parseNullableList(lkRisks),
			Recommendations: parseNullableList(lkRecs),
			GeneratedAt:     *lkAt,
		}
		if lkScore != nil {
			o.Likelihood.Score = *lkScore
		}
		if lkConfidence != nil {
			o.Likelihood.Confidence = *lkConfidence
		}
	}

	return o, nil
}

// UpsertOpportunity inserts a new opportunity or refreshes the row with the
// same notice id. Existing lifecycle flags, AI fields and a pipeline status
// past "scored" are preserved. It reports whether a row was created.
func (s *Store) UpsertOpportunity(ctx context.Context, opp *models.Opportunity) (bool, error) {
	if opp.PipelineStatus == "" {
		opp.PipelineStatus = models.StatusScored
	}

	query := `
		INSERT INTO opportunities (
			notice_id, solicitation_number, title, description, agency, notice_type,
			naics_codes, psc_codes, set_asides, posted_at, response_deadline, ui_link,
			keywords, relevance_score, signals, pipeline_status, batch_id, errors
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18
		)
		ON CONFLICT (notice_id) DO UPDATE SET
			updated_at = NOW(),
			version = opportunities.version + 1,
			solicitation_number = COALESCE(EXCLUDED.solicitation_number, opportunities.solicitation_number),
			title = EXCLUDED.title,
			description = COALESCE(NULLIF(EXCLUDED.description, ''), opportunities.description),
			agency = COALESCE(EXCLUDED.agency, opportunities.agency),
			notice_type = COALESCE(EXCLUDED.notice_type, opportunities.notice_type),
			naics_codes = EXCLUDED.naics_codes,
			psc_codes = EXCLUDED.psc_codes,
			set_asides = EXCLUDED.set_asides,
			posted_at = COALESCE(EXCLUDED.posted_at, opportunities.posted_at),
			response_deadline = COALESCE(EXCLUDED.response_deadline, opportunities.response_deadline),
			ui_link = COALESCE(EXCLUDED.ui_link, opportunities.ui_link),
			keywords = EXCLUDED.keywords,
			relevance_score = EXCLUDED.relevance_score,
			signals = EXCLUDED.signals,
			pipeline_status = CASE
				WHEN opportunities.pipeline_status = 'discovered' THEN EXCLUDED.pipeline_status
				ELSE opportunities.pipeline_status
			END,
			batch_id = EXCLUDED.batch_id,
			errors = EXCLUDED.errors
		RETURNING id, (xmax = 0) AS inserted, pipeline_status, dismissed, ignored, version, created_at, updated_at
	`

	var inserted bool
	var status string
	err := s.pool.QueryRow(ctx, query,
		opp.NoticeID,                          // $1
		nilIfEmpty(opp.SolicitationNumber),    // $2
		opp.Title,                             // $3
		opp.Description,                       // $4
		nilIfEmpty(opp.Agency),                // $5
		nilIfEmpty(opp.NoticeType),            // $6
		EncodeListField(opp.NAICSCodes),       // $7
		EncodeListField(opp.PSCCodes),         // $8
		EncodeListField(opp.SetAsides),        // $9
		opp.PostedAt,                          // $10
		opp.ResponseDeadline,                  // $11
		nilIfEmpty(opp.UILink),                // $12
		EncodeListField(opp.Keywords),         // $13
		models.ClampScore(opp.RelevanceScore), // $14
		EncodeListField(opp.Signals),          // $15
		string(opp.PipelineStatus),            // $16
		nilIfEmpty(opp.BatchID),               // $17
		EncodeListField(opp.Errors),           // $18
	).Scan(&opp.ID, &inserted, &status, &opp.Dismissed, &opp.Ignored, &opp.Version, &opp.CreatedAt, &opp.UpdatedAt)
	if err != nil {
		return false, apperr.Persistence("upsert opportunity "+opp.NoticeID, err)
	}
	opp.PipelineStatus = models.PipelineStatus(status)

	return inserted, nil
}

// KnownNoticeIDs returns the subset of ids already stored.
func (s *Store) KnownNoticeIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	known := make(map[string]bool)
	if len(ids) == 0 {
		return known, nil
	}

	rows, err := s.pool.Query(ctx, "SELECT notice_id FROM opportunities WHERE notice_id = ANY($1)", ids)
	if err != nil {
		return nil, apperr.Persistence("known notice ids", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Persistence("known notice ids", err)
		}
		known[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("known notice ids", err)
	}
	return known, nil
}

func (s *Store) GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM opportunities
		WHERE id = $1
	`, selectCols)

	o, err := scanOpportunity(s.pool.QueryRow(ctx, sql, id).Scan)
	if err != nil {
		return nil, notFoundOr("get opportunity", "opportunity not found", err)
	}
	return &o, nil
}

func (s *Store) ListOpportunities(ctx context.Context, params ListParams) (*ListResult, error) {
	where, args := buildListWhere(params)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunities "+where, args...).Scan(&total); err != nil {
		return nil, apperr.Persistence("count opportunities", err)
	}

	argIdx := len(args) + 1
	selectSQL := fmt.Sprintf("SELECT %s FROM opportunities %s ORDER BY relevance_score DESC, created_at DESC LIMIT $%d OFFSET $%d",
		selectCols, where, argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := s.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return nil, apperr.Persistence("list opportunities", err)
	}
	defer rows.Close()

	opps := []models.Opportunity{}
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, apperr.Persistence("scan opportunity", err)
		}
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list opportunities", err)
	}

	return &ListResult{
		Opportunities: opps,
		Total:         total,
		Limit:         params.Limit,
		Offset:        params.Offset,
	}, nil
}

func buildListWhere(params ListParams) (string, []interface{}) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	if params.Status != "" && params.Status != "all" {
		where += fmt.Sprintf(" AND pipeline_status = $%d", argIdx)
		args = append(args, params.Status)
		argIdx++
	}
	if params.Flagged != nil {
		where += fmt.Sprintf(" AND flagged = $%d", argIdx)
		args = append(args, *params.Flagged)
		argIdx++
	}
	if params.Dismissed != nil {
		where += fmt.Sprintf(" AND dismissed = $%d", argIdx)
		args = append(args, *params.Dismissed)
		argIdx++
	}
	if params.MinScore > 0 {
		where += fmt.Sprintf(" AND relevance_score >= $%d", argIdx)
		args = append(args, params.MinScore)
		argIdx++
	}
	if params.BatchID != "" {
		where += fmt.Sprintf(" AND batch_id = $%d", argIdx)
		args = append(args, params.BatchID)
	}

	return where, args
}

// SetFlagged flags or unflags an opportunity. Unflagging returns the record
// to its main-track status.
func (s *Store) SetFlagged(ctx context.Context, id uuid.UUID, flagged bool, actor string) (*models.Opportunity, error) {
	sql := fmt.Sprintf(`
		UPDATE opportunities SET
			flagged = $2,
			flagged_by = CASE WHEN $2 THEN $3 ELSE NULL END,
			flagged_at = CASE WHEN $2 THEN NOW() ELSE NULL END,
			pipeline_status = CASE
				WHEN $2 THEN 'flagged'
				WHEN pipeline_status = 'flagged' THEN %s
				ELSE pipeline_status
			END,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, progressStatusExpr, selectCols)

	return s.updateReturning(ctx, "flag opportunity", sql, id, flagged, actor)
}

// SetIgnored marks an opportunity as ignored, or restores it.
func (s *Store) SetIgnored(ctx context.Context, id uuid.UUID, ignored bool, actor string) (*models.Opportunity, error) {
	sql := fmt.Sprintf(`
		UPDATE opportunities SET
			ignored = $2,
			ignored_by = CASE WHEN $2 THEN $3 ELSE NULL END,
			ignored_at = CASE WHEN $2 THEN NOW() ELSE NULL END,
			pipeline_status = CASE
				WHEN $2 THEN 'ignored'
				WHEN pipeline_status = 'ignored' THEN %s
				ELSE pipeline_status
			END,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, progressStatusExpr, selectCols)

	return s.updateReturning(ctx, "ignore opportunity", sql, id, ignored, actor)
}

// Dismiss marks an opportunity dismissed and clears any verification.
func (s *Store) Dismiss(ctx context.Context, id uuid.UUID, reason, actor string) (*models.Opportunity, error) {
	sql := fmt.Sprintf(`
		UPDATE opportunities SET
			dismissed = true,
			dismissed_reason = $2,
			dismissed_by = $3,
			dismissed_at = NOW(),
			verified = false,
			verified_by = NULL,
			verified_at = NULL,
			pipeline_status = CASE
				WHEN pipeline_status = 'verified' THEN %s
				ELSE pipeline_status
			END,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, mainTrackStatusExpr, selectCols)

	return s.updateReturning(ctx, "dismiss opportunity", sql, id, nilIfEmpty(reason), actor)
}

// Verify approves an opportunity and clears any prior dismissal.
func (s *Store) Verify(ctx context.Context, id uuid.UUID, actor string) (*models.Opportunity, error) {
	sql := fmt.Sprintf(`
		UPDATE opportunities SET
			verified = true,
			verified_by = $2,
			verified_at = NOW(),
			dismissed = false,
			dismissed_reason = NULL,
			dismissed_by = NULL,
			dismissed_at = NULL,
			pipeline_status = 'verified',
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, selectCols)

	return s.updateReturning(ctx, "verify opportunity", sql, id, actor)
}

func (s *Store) updateReturning(ctx context.Context, op, sql string, args ...interface{}) (*models.Opportunity, error) {
	o, err := scanOpportunity(s.pool.QueryRow(ctx, sql, args...).Scan)
	if err != nil {
		return nil, notFoundOr(op, "opportunity not found", err)
	}
	return &o, nil
}

// DeleteOpportunity hard-deletes an opportunity. Its award links cascade.
func (s *Store) DeleteOpportunity(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM opportunities WHERE id = $1", id)
	if err != nil {
		return apperr.Persistence("delete opportunity", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("delete opportunity", "opportunity not found")
	}
	return nil
}

// SaveAnalysis writes the full AI analysis in one statement, guarded by the
// version the caller read.
func (s *Store) SaveAnalysis(ctx context.Context, id uuid.UUID, version int, a *models.AIAnalysis) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET
			ai_summary = $3,
			ai_key_requirements = $4,
			ai_keywords = $5,
			ai_strengths = $6,
			ai_concerns = $7,
			ai_fit_score = $8,
			ai_service_category = $9,
			ai_recommended_actions = $10,
			ai_analyzed_at = $11,
			pipeline_status = CASE
				WHEN pipeline_status IN ('discovered', 'scored') THEN 'enriched'
				ELSE pipeline_status
			END,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, id, version,
		a.Summary,
		EncodeListField(a.KeyRequirements),
		EncodeListField(a.Keywords),
		EncodeListField(a.Strengths),
		EncodeListField(a.Concerns),
		models.ClampScore(a.FitScore),
		nilIfEmpty(a.ServiceCategory),
		EncodeListField(a.RecommendedActions),
		a.GeneratedAt,
	)
	if err != nil {
		return apperr.Persistence("save analysis", err)
	}
	if tag.RowsAffected() == 0 {
		return s.versionMiss(ctx, "save analysis", id)
	}
	return nil
}

// SaveAwardLikelihood writes the full likelihood assessment in one statement.
func (s *Store) SaveAwardLikelihood(ctx context.Context, id uuid.UUID, version int, l *models.AwardLikelihood) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET
			likelihood_score = $3,
			likelihood_confidence = $4,
			likelihood_reasoning = $5,
			likelihood_strengths = $6,
			likelihood_concerns = $7,
			likelihood_risk_factors = $8,
			likelihood_recommendations = $9,
			likelihood_at = $10,
			pipeline_status = CASE
				WHEN pipeline_status IN ('discovered', 'scored') THEN 'enriched'
				ELSE pipeline_status
			END,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, id, version,
		models.ClampScore(l.Score),
		l.Confidence,
		l.Reasoning,
		EncodeListField(l.Strengths),
		EncodeListField(l.Concerns),
		EncodeListField(l.RiskFactors),
		EncodeListField(l.Recommendations),
		l.GeneratedAt,
	)
	if err != nil {
		return apperr.Persistence("save award likelihood", err)
	}
	if tag.RowsAffected() == 0 {
		return s.versionMiss(ctx, "save award likelihood", id)
	}
	return nil
}

func (s *Store) versionMiss(ctx context.Context, op string, id uuid.UUID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM opportunities WHERE id = $1)", id).Scan(&exists); err != nil {
		return apperr.Persistence(op, err)
	}
	if !exists {
		return apperr.NotFound(op, "opportunity not found")
	}
	return &apperr.Error{
		Kind:      apperr.KindConflict,
		Op:        op,
		Message:   "opportunity was modified while the request was running; retry",
		Retryable: true,
	}
}

// GetPipelineStatus returns the status of one opportunity, or nil when the id
// does not resolve.
func (s *Store) GetPipelineStatus(ctx context.Context, id uuid.UUID) (*models.PipelineStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx, "SELECT pipeline_status FROM opportunities WHERE id = $1", id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("get pipeline status", err)
	}
	ps := models.PipelineStatus(status)
	return &ps, nil
}

// PipelineStatusCounts groups all opportunities by pipeline status.
func (s *Store) PipelineStatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, "SELECT pipeline_status, COUNT(*) FROM opportunities GROUP BY pipeline_status")
	if err != nil {
		return nil, apperr.Persistence("pipeline status counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for _, st := range models.AllStatuses() {
		counts[string(st)] = 0
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperr.Persistence("pipeline status counts", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("pipeline status counts", err)
	}
	return counts, nil
}

func notFoundOr(op, msg string, err error) error {
	if isNoRows(err) {
		return apperr.NotFound(op, msg)
	}
	return apperr.Persistence(op, err)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// prefixCols qualifies every column in a comma-separated list with a table alias.
func prefixCols(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// nilIfEmpty returns nil for empty strings so NULL is stored in DB.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
