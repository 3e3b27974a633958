//go:build integration

package shipping

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/redisx"
	"github.com/ariefcatur/marketplace-pricing/internal/testsuite"
)

type locationSuite struct {
	testsuite.BaseSuite
	repo   *LocationRepo
	cached *CachedLocationStore
}

func TestLocationSuite(t *testing.T) {
	suite.Run(t, new(locationSuite))
}

func (s *locationSuite) SetupSuite() {
	s.SetupInfrastructure("../../migrations")
	s.repo = &LocationRepo{DB: s.DB}
	s.cached = NewCachedLocationStore(s.repo, s.Redis, zap.NewNop())
}

func (s *locationSuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *locationSuite) SetupTest() {
	s.TruncateTables("store_shipping_configs", "store_regions", "cities", "regions")
	_, err := s.DB.Exec(s.Ctx, `
		INSERT INTO regions(id, name) VALUES ('cai', 'Cairo'), ('del', 'Delta');
		INSERT INTO cities(name, region_id) VALUES ('Cairo', 'cai'), ('Tanta', 'del');
		INSERT INTO store_regions(store_id, region_id) VALUES ('s1', 'cai');
		INSERT INTO store_shipping_configs(store_id, same_day_fee, standard_fee, national_fee, same_day_cities)
		VALUES ('s1', 40.50, 20, 30, ARRAY['Cairo', 'Giza'])`)
	s.Require().NoError(err)
}

func (s *locationSuite) TestRepoLookups() {
	region, err := s.repo.RegionByCity(s.Ctx, "  CAIRO ")
	s.Require().NoError(err)
	s.Equal("cai", region)

	_, err = s.repo.RegionByCity(s.Ctx, "Atlantis")
	s.ErrorIs(err, apperr.ErrNotFound)

	ok, err := s.repo.StoreSupportsRegion(s.Ctx, "s1", "del")
	s.Require().NoError(err)
	s.False(ok)

	// no rows means the store ships everywhere
	ok, err = s.repo.StoreSupportsRegion(s.Ctx, "s2", "del")
	s.Require().NoError(err)
	s.True(ok)

	cfg, err := s.repo.StoreConfig(s.Ctx, "s1")
	s.Require().NoError(err)
	s.Equal("40.5", cfg.SameDayFee.String())
	s.True(cfg.SameDayEligible("giza"))

	_, err = s.repo.StoreConfig(s.Ctx, "s2")
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *locationSuite) TestCacheRemembersMisses() {
	_, err := s.cached.RegionByCity(s.Ctx, "Luxor")
	s.ErrorIs(err, apperr.ErrNotFound)

	cached, err := s.Redis.Get(s.Ctx, fmt.Sprintf(redisx.KeyRegion, "luxor")).Result()
	s.Require().NoError(err)
	s.Empty(cached)

	// a city added later stays unknown until the negative entry expires
	_, err = s.DB.Exec(s.Ctx, `INSERT INTO cities(name, region_id) VALUES ('Luxor', 'del')`)
	s.Require().NoError(err)
	_, err = s.cached.RegionByCity(s.Ctx, "luxor")
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *locationSuite) TestCacheServesHits() {
	region, err := s.cached.RegionByCity(s.Ctx, "Tanta")
	s.Require().NoError(err)
	s.Equal("del", region)

	_, err = s.DB.Exec(s.Ctx, `DELETE FROM cities WHERE name = 'Tanta'`)
	s.Require().NoError(err)

	region, err = s.cached.RegionByCity(s.Ctx, "tanta")
	s.Require().NoError(err)
	s.Equal("del", region)
}

func (s *locationSuite) TestResolverOverPostgres() {
	r := NewResolver(NewBreakerLocationStore(s.cached, zap.NewNop()), Config{SupportedCountry: "Egypt"}, zap.NewNop())

	q, err := r.Quote(s.Ctx, "Cairo", "Egypt", "s1")
	s.Require().NoError(err)
	s.Equal(ZoneSameDay, q.Zone)
	s.Equal("40.5", q.Fee.String())

	_, err = r.Quote(s.Ctx, "Tanta", "Egypt", "s1")
	s.ErrorIs(err, ErrNotSupported)
}
