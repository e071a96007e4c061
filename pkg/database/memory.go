package database

import (
	"context"
	"github.com/Geniuskaa/team_registration/pkg/team"
	"github.com/google/uuid"
	"sync"
	"time"
)

type sectionKey struct {
	owner   uuid.UUID
	variant team.Variant
}

// Memory keeps registrations in process. It mirrors the Postgres semantics
// and backs tests.
type Memory struct {
	mu            sync.RWMutex
	registrations map[uuid.UUID]team.Registration
	sections      map[sectionKey]team.Section
	photos        map[uuid.UUID]team.Photo
	lastPhotoID   int64
}

func NewMemory() *Memory {
	return &Memory{
		registrations: make(map[uuid.UUID]team.Registration),
		sections:      make(map[sectionKey]team.Section),
		photos:        make(map[uuid.UUID]team.Photo),
	}
}

func (m *Memory) CreateRegistration(_ context.Context) (team.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg := team.Registration{ID: uuid.New(), CreatedAt: time.Now().UTC()}
	m.registrations[reg.ID] = reg
	return reg, nil
}

func (m *Memory) GetRegistration(_ context.Context, id uuid.UUID) (team.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.registrations[id]
	if !ok {
		return team.Registration{}, ErrNotFound
	}
	return reg, nil
}

func (m *Memory) GetSection(_ context.Context, owner uuid.UUID, v team.Variant) (team.Section, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sections[sectionKey{owner, v}]
	if !ok {
		return team.Section{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) UpsertSection(_ context.Context, s team.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registrations[s.RegistrationID]; !ok {
		return ErrNotFound
	}
	m.sections[sectionKey{s.RegistrationID, s.Variant}] = s
	return nil
}

func (m *Memory) DeleteSection(_ context.Context, owner uuid.UUID, v team.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sections, sectionKey{owner, v})
	return nil
}

func (m *Memory) ClearSection(_ context.Context, owner uuid.UUID, v team.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sectionKey{owner, v}
	s, ok := m.sections[key]
	if !ok {
		return ErrNotFound
	}
	m.sections[key] = s.Cleared()
	return nil
}

func (m *Memory) GetPhoto(_ context.Context, owner uuid.UUID) (team.Photo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.photos[owner]
	if !ok {
		return team.Photo{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) GetPhotoByID(ctx context.Context, owner uuid.UUID, id int64) (team.Photo, error) {
	p, err := m.GetPhoto(ctx, owner)
	if err != nil || p.ID != id {
		return team.Photo{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) GetPhotoByName(ctx context.Context, owner uuid.UUID, filename string) (team.Photo, error) {
	p, err := m.GetPhoto(ctx, owner)
	if err != nil || p.Filename != filename {
		return team.Photo{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ReplacePhoto(_ context.Context, photo team.Photo) (team.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registrations[photo.RegistrationID]; !ok {
		return team.Photo{}, ErrNotFound
	}
	return m.replacePhoto(photo), nil
}

func (m *Memory) replacePhoto(photo team.Photo) team.Photo {
	m.lastPhotoID++
	photo.ID = m.lastPhotoID
	photo.Data = append([]byte(nil), photo.Data...)
	m.photos[photo.RegistrationID] = photo
	return photo
}

func (m *Memory) Complete(_ context.Context, owner uuid.UUID, sections []team.Section, photo *team.Photo, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.registrations[owner]
	if !ok {
		return ErrNotFound
	}
	for _, s := range sections {
		key := sectionKey{s.RegistrationID, s.Variant}
		if _, stored := m.sections[key]; s.Variant.Optional() && !stored {
			continue
		}
		m.sections[key] = s
	}
	if photo != nil {
		*photo = m.replacePhoto(*photo)
	}
	reg.CompletedAt = &at
	m.registrations[owner] = reg
	return nil
}

// Counts reports how many sections and photos are stored for owner.
func (m *Memory) Counts(owner uuid.UUID) (sections, photos int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key := range m.sections {
		if key.owner == owner {
			sections++
		}
	}
	if _, ok := m.photos[owner]; ok {
		photos = 1
	}
	return sections, photos
}
