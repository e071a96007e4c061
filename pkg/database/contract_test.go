package database

import (
	"context"
	"github.com/Geniuskaa/team_registration/pkg/team"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"sync"
	"testing"
	"time"
)

type store interface {
	CreateRegistration(ctx context.Context) (team.Registration, error)
	GetRegistration(ctx context.Context, id uuid.UUID) (team.Registration, error)
	GetSection(ctx context.Context, owner uuid.UUID, v team.Variant) (team.Section, error)
	UpsertSection(ctx context.Context, s team.Section) error
	DeleteSection(ctx context.Context, owner uuid.UUID, v team.Variant) error
	ClearSection(ctx context.Context, owner uuid.UUID, v team.Variant) error
	GetPhoto(ctx context.Context, owner uuid.UUID) (team.Photo, error)
	GetPhotoByID(ctx context.Context, owner uuid.UUID, id int64) (team.Photo, error)
	GetPhotoByName(ctx context.Context, owner uuid.UUID, filename string) (team.Photo, error)
	ReplacePhoto(ctx context.Context, photo team.Photo) (team.Photo, error)
	Complete(ctx context.Context, owner uuid.UUID, sections []team.Section, photo *team.Photo, at time.Time) error
}

// StoreContractSuite holds the behaviour every store implementation shares.
type StoreContractSuite struct {
	suite.Suite
	ctx      context.Context
	newStore func() store
	store    store
}

func (s *StoreContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
}

func TestMemoryStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func() store { return NewMemory() }})
}

func (s *StoreContractSuite) register() uuid.UUID {
	reg, err := s.store.CreateRegistration(s.ctx)
	s.Require().NoError(err)
	return reg.ID
}

func mentor(owner uuid.UUID, email string) team.Section {
	return team.Section{RegistrationID: owner, Variant: team.Mentor, Name: "Ivan", Post: "Teacher", Email: email, Phone: "+7 900"}
}

func (s *StoreContractSuite) TestRegistrationLifecycle() {
	reg, err := s.store.CreateRegistration(s.ctx)
	s.Require().NoError(err)
	s.NotEqual(uuid.Nil, reg.ID)

	found, err := s.store.GetRegistration(s.ctx, reg.ID)
	s.Require().NoError(err)
	s.Nil(found.CompletedAt)

	_, err = s.store.GetRegistration(s.ctx, uuid.New())
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreContractSuite) TestSectionUpsert() {
	s.Run("missing section is not found", func() {
		_, err := s.store.GetSection(s.ctx, s.register(), team.Mentor)
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("second upsert overwrites the first", func() {
		owner := s.register()
		s.Require().NoError(s.store.UpsertSection(s.ctx, mentor(owner, "first@example.com")))
		s.Require().NoError(s.store.UpsertSection(s.ctx, mentor(owner, "second@example.com")))

		found, err := s.store.GetSection(s.ctx, owner, team.Mentor)
		s.Require().NoError(err)
		s.Equal(mentor(owner, "second@example.com"), found)
	})

	s.Run("concurrent upserts keep one row", func() {
		owner := s.register()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.NoError(s.store.UpsertSection(s.ctx, mentor(owner, "race@example.com")))
			}()
		}
		wg.Wait()

		found, err := s.store.GetSection(s.ctx, owner, team.Mentor)
		s.Require().NoError(err)
		s.Equal("race@example.com", found.Email)
	})

	s.Run("class survives a round trip", func() {
		owner := s.register()
		captain := team.Section{RegistrationID: owner, Variant: team.Captain, Name: "Anna", Class: 10, Email: "a@example.com", Phone: "1"}
		s.Require().NoError(s.store.UpsertSection(s.ctx, captain))

		found, err := s.store.GetSection(s.ctx, owner, team.Captain)
		s.Require().NoError(err)
		s.Equal(captain, found)
	})
}

func (s *StoreContractSuite) TestThirdParticipantRemoval() {
	third := func(owner uuid.UUID) team.Section {
		return team.Section{RegistrationID: owner, Variant: team.Participant3, Name: "Oleg", Class: 9, Email: "o@example.com", Phone: "2"}
	}

	s.Run("delete removes the row", func() {
		owner := s.register()
		s.Require().NoError(s.store.UpsertSection(s.ctx, third(owner)))
		s.Require().NoError(s.store.DeleteSection(s.ctx, owner, team.Participant3))

		_, err := s.store.GetSection(s.ctx, owner, team.Participant3)
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("delete without a row is a no-op", func() {
		s.NoError(s.store.DeleteSection(s.ctx, s.register(), team.Participant3))
	})

	s.Run("clear keeps an empty row", func() {
		owner := s.register()
		s.Require().NoError(s.store.UpsertSection(s.ctx, third(owner)))
		s.Require().NoError(s.store.ClearSection(s.ctx, owner, team.Participant3))

		found, err := s.store.GetSection(s.ctx, owner, team.Participant3)
		s.Require().NoError(err)
		s.True(found.Empty())
	})

	s.Run("clear without a row is not found", func() {
		err := s.store.ClearSection(s.ctx, s.register(), team.Participant3)
		s.ErrorIs(err, ErrNotFound)
	})
}

func (s *StoreContractSuite) TestPhotoReplace() {
	s.Run("new upload replaces the old one", func() {
		owner := s.register()
		first, err := s.store.ReplacePhoto(s.ctx, team.Photo{RegistrationID: owner, Filename: "old.png", Data: []byte("old")})
		s.Require().NoError(err)
		second, err := s.store.ReplacePhoto(s.ctx, team.Photo{RegistrationID: owner, Filename: "new.gif", Data: []byte("new")})
		s.Require().NoError(err)
		s.NotEqual(first.ID, second.ID)

		found, err := s.store.GetPhoto(s.ctx, owner)
		s.Require().NoError(err)
		s.Equal("new.gif", found.Filename)
		s.Equal([]byte("new"), found.Data)

		_, err = s.store.GetPhotoByID(s.ctx, owner, first.ID)
		s.ErrorIs(err, ErrNotFound)
		_, err = s.store.GetPhotoByName(s.ctx, owner, "old.png")
		s.ErrorIs(err, ErrNotFound)

		byID, err := s.store.GetPhotoByID(s.ctx, owner, second.ID)
		s.Require().NoError(err)
		s.Equal(found, byID)
		byName, err := s.store.GetPhotoByName(s.ctx, owner, "new.gif")
		s.Require().NoError(err)
		s.Equal(found, byName)
	})

	s.Run("concurrent uploads leave exactly one photo", func() {
		owner := s.register()
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.store.ReplacePhoto(s.ctx, team.Photo{RegistrationID: owner, Filename: "team.png", Data: []byte("x")})
				s.NoError(err)
			}()
		}
		wg.Wait()

		found, err := s.store.GetPhoto(s.ctx, owner)
		s.Require().NoError(err)
		s.Equal("team.png", found.Filename)
	})

	s.Run("photos of other registrations are invisible", func() {
		owner := s.register()
		photo, err := s.store.ReplacePhoto(s.ctx, team.Photo{RegistrationID: owner, Filename: "team.png", Data: []byte("x")})
		s.Require().NoError(err)

		_, err = s.store.GetPhotoByID(s.ctx, s.register(), photo.ID)
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("unknown registration is rejected", func() {
		_, err := s.store.ReplacePhoto(s.ctx, team.Photo{RegistrationID: uuid.New(), Filename: "team.png", Data: []byte("x")})
		s.ErrorIs(err, ErrNotFound)
	})
}

func (s *StoreContractSuite) TestComplete() {
	owner := s.register()
	s.Require().NoError(s.store.UpsertSection(s.ctx, mentor(owner, "old@example.com")))
	_, err := s.store.ReplacePhoto(s.ctx, team.Photo{RegistrationID: owner, Filename: "old.png", Data: []byte("old")})
	s.Require().NoError(err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	photo := &team.Photo{RegistrationID: owner, Filename: "final.jpg", Data: []byte("final")}
	err = s.store.Complete(s.ctx, owner, []team.Section{
		mentor(owner, "new@example.com"),
		{RegistrationID: owner, Variant: team.GeneralInfo, Team: "A", School: "B", City: "C"},
	}, photo, at)
	s.Require().NoError(err)
	s.NotZero(photo.ID)

	found, err := s.store.GetSection(s.ctx, owner, team.Mentor)
	s.Require().NoError(err)
	s.Equal("new@example.com", found.Email)

	stored, err := s.store.GetPhoto(s.ctx, owner)
	s.Require().NoError(err)
	s.Equal("final.jpg", stored.Filename)

	reg, err := s.store.GetRegistration(s.ctx, owner)
	s.Require().NoError(err)
	s.Require().NotNil(reg.CompletedAt)
	s.True(at.Equal(*reg.CompletedAt))
}

func (s *StoreContractSuite) TestCompleteAfterThirdParticipantRemoved() {
	third := team.Section{Variant: team.Participant3, Name: "Oleg", Class: 9, Email: "o@example.com", Phone: "2"}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Run("removed participant is not restored", func() {
		owner := s.register()
		snapshot := third
		snapshot.RegistrationID = owner
		s.Require().NoError(s.store.UpsertSection(s.ctx, snapshot))
		s.Require().NoError(s.store.DeleteSection(s.ctx, owner, team.Participant3))

		err := s.store.Complete(s.ctx, owner, []team.Section{mentor(owner, "m@example.com"), snapshot}, nil, at)
		s.Require().NoError(err)

		_, err = s.store.GetSection(s.ctx, owner, team.Participant3)
		s.ErrorIs(err, ErrNotFound)
		_, err = s.store.GetSection(s.ctx, owner, team.Mentor)
		s.NoError(err)
	})

	s.Run("stored participant is updated", func() {
		owner := s.register()
		stored := third
		stored.RegistrationID = owner
		s.Require().NoError(s.store.UpsertSection(s.ctx, stored))

		stored.Email = "new@example.com"
		s.Require().NoError(s.store.Complete(s.ctx, owner, []team.Section{stored}, nil, at))

		found, err := s.store.GetSection(s.ctx, owner, team.Participant3)
		s.Require().NoError(err)
		s.Equal("new@example.com", found.Email)
	})
}
