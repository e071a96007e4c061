//go:build integration

package session

import (
	"context"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"testing"
	"time"
)

type RedisStoreSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	store     *RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	url, err := container.ConnectionString(ctx)
	s.Require().NoError(err)
	client, err := NewRedisClient(ctx, url)
	s.Require().NoError(err)
	s.store = NewRedisStore(client)
}

func (s *RedisStoreSuite) TearDownSuite() {
	if s.store != nil {
		s.store.client.Close()
	}
	if s.container != nil {
		_ = testcontainers.TerminateContainer(s.container)
	}
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	session := &Session{
		ID:             uuid.NewString(),
		RegistrationID: uuid.New(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		Flashes:        []string{"hello"},
	}
	s.Require().NoError(s.store.Save(ctx, session))

	found, err := s.store.Get(ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(session.RegistrationID, found.RegistrationID)
	s.True(session.ExpiresAt.Equal(found.ExpiresAt))
	s.Equal([]string{"hello"}, found.Flashes)

	ttl, err := s.store.client.TTL(ctx, sessionKeyPrefix+session.ID).Result()
	s.Require().NoError(err)
	s.InDelta(time.Hour.Seconds(), ttl.Seconds(), 5)
}

func (s *RedisStoreSuite) TestExpiredSessionIsNotStored() {
	ctx := context.Background()
	session := &Session{ID: uuid.NewString(), ExpiresAt: time.Now().Add(-time.Second)}
	s.Require().NoError(s.store.Save(ctx, session))

	_, err := s.store.Get(ctx, session.ID)
	s.ErrorIs(err, ErrNotFound)
}

func (s *RedisStoreSuite) TestDelete() {
	ctx := context.Background()
	session := &Session{ID: uuid.NewString(), ExpiresAt: time.Now().Add(time.Minute)}
	s.Require().NoError(s.store.Save(ctx, session))
	s.Require().NoError(s.store.Delete(ctx, session.ID))

	_, err := s.store.Get(ctx, session.ID)
	s.ErrorIs(err, ErrNotFound)
}
