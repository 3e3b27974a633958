// Package testsuite starts throwaway PostgreSQL and Redis containers for the
// integration tests and applies the SQL migrations to the database.
package testsuite

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

type BaseSuite struct {
	suite.Suite
	PgContainer    *postgres.PostgresContainer
	RedisContainer *tcredis.RedisContainer
	DB             *pgxpool.Pool
	Redis          *redis.Client
	Ctx            context.Context
}

func (s *BaseSuite) SetupInfrastructure(migrationsRelPath string) {
	s.Ctx = context.Background()

	var err error
	s.PgContainer, err = postgres.Run(
		s.Ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("pricing_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)

	connStr, err := s.PgContainer.ConnectionString(s.Ctx, "sslmode=disable")
	s.Require().NoError(err)

	absPath, err := filepath.Abs(migrationsRelPath)
	s.Require().NoError(err)
	m, err := migrate.New("file://"+absPath, connStr)
	s.Require().NoError(err)
	s.Require().NoError(m.Up())

	s.DB, err = pgxpool.New(s.Ctx, connStr)
	s.Require().NoError(err)

	s.RedisContainer, err = tcredis.Run(s.Ctx, "redis:7-alpine")
	s.Require().NoError(err)
	redisURL, err := s.RedisContainer.ConnectionString(s.Ctx)
	s.Require().NoError(err)
	opts, err := redis.ParseURL(redisURL)
	s.Require().NoError(err)
	s.Redis = redis.NewClient(opts)
}

func (s *BaseSuite) TearDownInfrastructure() {
	if s.DB != nil {
		s.DB.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.PgContainer != nil {
		if err := s.PgContainer.Terminate(s.Ctx); err != nil {
			log.Printf("terminate postgres container: %v", err)
		}
	}
	if s.RedisContainer != nil {
		if err := s.RedisContainer.Terminate(s.Ctx); err != nil {
			log.Printf("terminate redis container: %v", err)
		}
	}
}

func (s *BaseSuite) TruncateTables(tables ...string) {
	_, err := s.DB.Exec(s.Ctx, fmt.Sprintf("TRUNCATE %s CASCADE", strings.Join(tables, ", ")))
	s.Require().NoError(err)
	s.Require().NoError(s.Redis.FlushDB(s.Ctx).Err())
}

// InsertProduct seeds a product row; products are owned by the catalogue
// and never written by this service outside stock movements.
func (s *BaseSuite) InsertProduct(id, sellerID, price string, stock int) {
	_, err := s.DB.Exec(s.Ctx, `
		INSERT INTO products(id, seller_id, name, price, stock) VALUES ($1, $2, $1, $3::numeric, $4)`,
		id, sellerID, price, stock)
	s.Require().NoError(err)
}
