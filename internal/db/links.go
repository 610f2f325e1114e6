package db

import (
	"context"
	"fmt"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/david/contract-finder/internal/models"
	"github.com/google/uuid"
)

// CreateLink records an opportunity/award pair. An existing pair is left
// untouched and reported as not created.
func (s *Store) CreateLink(ctx context.Context, link *models.AwardLink) (bool, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO award_links (opportunity_id, award_id, confidence, criteria)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (opportunity_id, award_id) DO NOTHING
		RETURNING id, created_at
	`, link.OpportunityID, link.AwardID, link.Confidence, EncodeListField(link.Criteria)).Scan(&link.ID, &link.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, apperr.Persistence("create award link", err)
	}
	return true, nil
}

// LinkedAwardIDs returns the awards already linked to an opportunity.
func (s *Store) LinkedAwardIDs(ctx context.Context, oppID uuid.UUID) (map[uuid.UUID]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT award_id FROM award_links WHERE opportunity_id = $1", oppID)
	if err != nil {
		return nil, apperr.Persistence("linked award ids", err)
	}
	defer rows.Close()

	ids := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Persistence("linked award ids", err)
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("linked award ids", err)
	}
	return ids, nil
}

// LinksForOpportunity returns the links of one opportunity with their awards.
func (s *Store) LinksForOpportunity(ctx context.Context, oppID uuid.UUID) ([]models.AwardLink, error) {
	sql := fmt.Sprintf(`
		SELECT l.id, l.opportunity_id, l.confidence, l.criteria, l.created_at, %s
		FROM award_links l
		JOIN historical_awards a ON a.id = l.award_id
		WHERE l.opportunity_id = $1
		ORDER BY l.confidence DESC, l.created_at
	`, prefixCols("a.", awardCols))

	rows, err := s.pool.Query(ctx, sql, oppID)
	if err != nil {
		return nil, apperr.Persistence("list award links", err)
	}
	defer rows.Close()

	links := []models.AwardLink{}
	for rows.Next() {
		var l models.AwardLink
		var criteria string
		award, err := scanAward(func(dest ...interface{}) error {
			head := []interface{}{&l.ID, &l.OpportunityID, &l.Confidence, &criteria, &l.CreatedAt}
			return rows.Scan(append(head, dest...)...)
		})
		if err != nil {
			return nil, apperr.Persistence("scan award link", err)
		}
		l.Criteria = ParseListField(criteria, []string{})
		l.AwardID = award.ID
		l.Award = &award
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list award links", err)
	}
	return links, nil
}

// LinkCandidates returns opportunities eligible for batch linking: not
// dismissed, not ignored and without any link yet.
func (s *Store) LinkCandidates(ctx context.Context) ([]models.Opportunity, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM opportunities o
		WHERE o.dismissed = false
		  AND o.ignored = false
		  AND NOT EXISTS (SELECT 1 FROM award_links l WHERE l.opportunity_id = o.id)
		ORDER BY o.created_at
	`, prefixCols("o.", selectCols))

	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, apperr.Persistence("link candidates", err)
	}
	defer rows.Close()

	opps := []models.Opportunity{}
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, apperr.Persistence("scan link candidate", err)
		}
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("link candidates", err)
	}
	return opps, nil
}

// MarkLinked moves an opportunity on the main track to "linked". Side-branch
// statuses are left alone.
func (s *Store) MarkLinked(ctx context.Context, oppID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE opportunities SET
			pipeline_status = 'linked',
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND pipeline_status IN ('discovered', 'scored', 'enriched')
	`, oppID)
	if err != nil {
		return apperr.Persistence("mark linked", err)
	}
	return nil
}
