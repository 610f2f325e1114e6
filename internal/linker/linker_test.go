package linker

import (
	"context"
	"errors"
	"testing"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/david/contract-finder/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func navyOpportunity() models.Opportunity {
	return models.Opportunity{
		ID:          uuid.New(),
		Title:       "Zero Trust Architecture Implementation",
		Description: "Recompete of the NAVSEA zero trust architecture effort currently performed by Acme Federal Solutions.",
		Agency:      "DEPT OF DEFENSE.DEPT OF THE NAVY.NAVSEA",
		NAICSCodes:  []string{"541512"},
		Keywords:    []string{"zero trust"},
	}
}

func incumbentAward() models.HistoricalAward {
	return models.HistoricalAward{
		ID:            uuid.New(),
		AwardID:       "N00024-21-C-0001",
		RecipientName: "ACME FEDERAL SOLUTIONS LLC",
		Agency:        "Department of Defense",
		SubAgency:     "Department of the Navy",
		Description:   "ZERO TRUST ARCHITECTURE ENGINEERING",
		NAICSCode:     "541512",
	}
}

func result(name string, score, weight float64, matched bool) CriterionResult {
	return CriterionResult{Name: name, Score: score, Weight: weight, Matched: matched}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		results    []CriterionResult
		link       bool
		confidence float64
	}{
		{
			name:       "single strong criterion never links",
			results:    []CriterionResult{result(CriterionNAICS, 1, 0.3, true), result(CriterionAgency, 0.5, 0.4, false)},
			link:       false,
			confidence: 0.3,
		},
		{
			name:       "two criteria just below threshold",
			results:    []CriterionResult{result(CriterionAgency, 0.975, 0.4, true), result(CriterionNAICS, 1, 0.3, true)},
			link:       false,
			confidence: 0.69,
		},
		{
			name:       "two criteria exactly at threshold",
			results:    []CriterionResult{result(CriterionAgency, 1, 0.4, true), result(CriterionNAICS, 1, 0.3, true)},
			link:       true,
			confidence: 0.7,
		},
		{
			name: "unmatched criteria add nothing",
			results: []CriterionResult{
				result(CriterionAgency, 1, 0.4, true),
				result(CriterionKeywords, 0.25, 0.2, false),
				result(CriterionIncumbent, 1, 0.1, true),
			},
			link:       false,
			confidence: 0.5,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(tc.results)
			assert.Equal(t, tc.link, d.Link)
			assert.InDelta(t, tc.confidence, d.Confidence, 1e-9)
		})
	}
}

func TestEvaluate_IncumbentRecompete(t *testing.T) {
	opp := navyOpportunity()
	award := incumbentAward()

	d := Match(&opp, &award)
	require.True(t, d.Link)
	assert.Equal(t, []string{CriterionAgency, CriterionNAICS, CriterionKeywords, CriterionIncumbent}, d.Matched)
	// agency 0.40 + naics 0.30 + keywords 0.20*0.75 + incumbent 0.10
	assert.InDelta(t, 0.95, d.Confidence, 1e-9)
}

func TestEvaluate_NAICSOnlyDoesNotLink(t *testing.T) {
	opp := navyOpportunity()
	award := models.HistoricalAward{
		ID:            uuid.New(),
		RecipientName: "Other Co",
		Agency:        "Department of Agriculture",
		Description:   "LAB EQUIPMENT MAINTENANCE",
		NAICSCode:     "541512",
	}

	d := Match(&opp, &award)
	assert.False(t, d.Link)
	assert.Equal(t, []string{CriterionNAICS}, d.Matched)
}

func TestAgencySimilarity(t *testing.T) {
	opp := models.Opportunity{Agency: "VETERANS AFFAIRS, DEPARTMENT OF.VETERANS AFFAIRS, DEPARTMENT OF.NETWORK CONTRACT OFFICE 7"}
	award := models.HistoricalAward{Agency: "Department of Veterans Affairs"}
	assert.InDelta(t, 1.0, agencySimilarity(&opp, &award), 1e-9)

	award = models.HistoricalAward{Agency: "Department of Energy"}
	assert.Less(t, agencySimilarity(&opp, &award), 0.8)

	assert.Zero(t, agencySimilarity(&models.Opportunity{}, &award))
}

type fakeStore struct {
	opps      map[uuid.UUID]*models.Opportunity
	awards    []models.HistoricalAward
	links     map[[2]uuid.UUID]bool
	marked    []uuid.UUID
	createErr error
}

func newFakeStore(awards ...models.HistoricalAward) *fakeStore {
	return &fakeStore{opps: map[uuid.UUID]*models.Opportunity{}, awards: awards, links: map[[2]uuid.UUID]bool{}}
}

func (s *fakeStore) GetOpportunity(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	o, ok := s.opps[id]
	if !ok {
		return nil, apperr.NotFound("get opportunity", "opportunity not found")
	}
	return o, nil
}

func (s *fakeStore) LinkCandidates(ctx context.Context) ([]models.Opportunity, error) {
	var out []models.Opportunity
	for _, o := range s.opps {
		if o.Dismissed || o.Ignored {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (s *fakeStore) AllAwards(ctx context.Context) ([]models.HistoricalAward, error) {
	return s.awards, nil
}

func (s *fakeStore) LinkedAwardIDs(ctx context.Context, oppID uuid.UUID) (map[uuid.UUID]bool, error) {
	out := map[uuid.UUID]bool{}
	for k := range s.links {
		if k[0] == oppID {
			out[k[1]] = true
		}
	}
	return out, nil
}

func (s *fakeStore) CreateLink(ctx context.Context, link *models.AwardLink) (bool, error) {
	if s.createErr != nil {
		return false, s.createErr
	}
	key := [2]uuid.UUID{link.OpportunityID, link.AwardID}
	if s.links[key] {
		return false, nil
	}
	s.links[key] = true
	link.ID = uuid.New()
	return true, nil
}

func (s *fakeStore) MarkLinked(ctx context.Context, oppID uuid.UUID) error {
	s.marked = append(s.marked, oppID)
	if o, ok := s.opps[oppID]; ok && models.CanAdvance(o.PipelineStatus, models.StatusLinked) {
		o.PipelineStatus = models.StatusLinked
	}
	return nil
}

func TestLinkBidToAwards_IsIdempotent(t *testing.T) {
	award := incumbentAward()
	store := newFakeStore(award, models.HistoricalAward{ID: uuid.New(), Agency: "Department of Energy", NAICSCode: "221122"})
	opp := navyOpportunity()
	store.opps[opp.ID] = &opp

	l := New(store)
	first, err := l.LinkBidToAwards(context.Background(), opp.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Compared)
	assert.Equal(t, 1, first.Created)
	require.Len(t, first.Links, 1)
	assert.Equal(t, award.ID, first.Links[0].AwardID)
	assert.Equal(t, []string{CriterionAgency, CriterionNAICS, CriterionKeywords, CriterionIncumbent}, first.Links[0].Criteria)

	second, err := l.LinkBidToAwards(context.Background(), opp.ID)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 1, second.Existing)
	assert.Len(t, store.links, 1)
	assert.Equal(t, []uuid.UUID{opp.ID}, store.marked)
	assert.Equal(t, models.StatusLinked, store.opps[opp.ID].PipelineStatus)
}

func TestLinkBidToAwards_MarksTrailingStatusOnly(t *testing.T) {
	award := incumbentAward()
	store := newFakeStore(award)
	opp := navyOpportunity()
	opp.PipelineStatus = models.StatusEnriched
	store.opps[opp.ID] = &opp
	store.links[[2]uuid.UUID{opp.ID, award.ID}] = true

	res, err := New(store).LinkBidToAwards(context.Background(), opp.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, []uuid.UUID{opp.ID}, store.marked)

	flagged := navyOpportunity()
	flagged.PipelineStatus = models.StatusFlagged
	store.opps[flagged.ID] = &flagged
	store.links[[2]uuid.UUID{flagged.ID, award.ID}] = true

	_, err = New(store).LinkBidToAwards(context.Background(), flagged.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{opp.ID}, store.marked)
	assert.Equal(t, models.StatusFlagged, flagged.PipelineStatus)
}

func TestLinkOpportunities_SkipsDismissedAndIgnored(t *testing.T) {
	store := newFakeStore(incumbentAward())
	active := navyOpportunity()
	dismissed := navyOpportunity()
	dismissed.Dismissed = true
	ignored := navyOpportunity()
	ignored.Ignored = true

	res, err := New(store).LinkOpportunities(context.Background(), []models.Opportunity{dismissed, active, ignored})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Opportunities)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Links, 1)
	assert.Equal(t, active.ID, res.Links[0].OpportunityID)
	assert.Equal(t, []uuid.UUID{active.ID}, store.marked)

	res, err = New(store).LinkOpportunities(context.Background(), []models.Opportunity{dismissed})
	require.NoError(t, err)
	assert.Zero(t, res.Opportunities)
	assert.Empty(t, res.Links)
}

func TestLinkBidToAwards_UnknownOpportunity(t *testing.T) {
	_, err := New(newFakeStore()).LinkBidToAwards(context.Background(), uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestLinkAwardsToBids_SkipsDismissedAndCollectsErrors(t *testing.T) {
	store := newFakeStore(incumbentAward())
	active := navyOpportunity()
	dismissed := navyOpportunity()
	dismissed.Dismissed = true
	store.opps[active.ID] = &active
	store.opps[dismissed.ID] = &dismissed

	res, err := New(store).LinkAwardsToBids(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Opportunities)
	assert.Equal(t, 1, res.Created)

	store.links = map[[2]uuid.UUID]bool{}
	store.createErr = errors.New("connection reset")
	res, err = New(store).LinkAwardsToBids(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "connection reset")
}
