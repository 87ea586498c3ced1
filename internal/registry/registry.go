// Package registry хранит авторитетное множество известных отправителей и их бортов.
//
// Registry не потокобезопасен: писатель у него один (сетевой контекст синхронизатора),
// читатели получают только копии.
package registry

import (
	"cmp"
	"net/netip"
	"slices"
	"time"

	"trafficrc/internal/models"
	"trafficrc/internal/wire"
)

// Config содержит параметры вытеснения
type Config struct {
	// StaleTimeout - после такого молчания отправитель удаляется вместе с бортами
	StaleTimeout time.Duration
	// AircraftTimeout - борт без обновлений дольше этого удаляется (0 - выключено)
	AircraftTimeout time.Duration
}

// Registry - карта отправителей и бортов
type Registry struct {
	cfg      Config
	peers    map[models.PeerIdentity]*models.PeerRecord
	aircraft map[models.AircraftID]models.AircraftState
}

func New(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		peers:    make(map[models.PeerIdentity]*models.PeerRecord),
		aircraft: make(map[models.AircraftID]models.AircraftState),
	}
}

// Ingest применяет одно сообщение от отправителя id, пришедшее с адреса src в момент now
func (r *Registry) Ingest(id models.PeerIdentity, src netip.AddrPort, msg wire.Message, now time.Time) Delta {
	var d Delta

	switch msg.(type) {
	case nil, wire.InterestBeacon:
		return d
	case wire.PeerGoodbye:
		if _, ok := r.peers[id]; ok {
			d.RemovedAircraft = r.remove(id)
			d.Removed = append(d.Removed, id)
			d.Goodbye = true
		}
		return d
	}

	rec := r.touch(id, src, now, &d)

	switch m := msg.(type) {
	case wire.SettingsAnnounce:
		if rec.DeclaredSettings == nil || *rec.DeclaredSettings != m.Settings {
			d.SettingsChanged = true
		}
		s := m.Settings
		rec.DeclaredSettings = &s
	case wire.AircraftUpdate:
		r.upsertAircraft(rec, m.Aircraft, now)
		d.AircraftChanged = true
	case wire.AircraftRemove:
		if ac, ok := r.aircraft[m.ID]; ok && ac.Owner == id {
			delete(r.aircraft, m.ID)
			delete(rec.KnownAircraftIDs, m.ID)
			d.AircraftChanged = true
			d.RemovedAircraft++
		}
	}
	return d
}

// touch создает или обновляет запись и сдвигает LastSeen
func (r *Registry) touch(id models.PeerIdentity, src netip.AddrPort, now time.Time, d *Delta) *models.PeerRecord {
	rec, ok := r.peers[id]
	if ok && src.IsValid() && rec.Source != src {
		// коллизия идентификатора: побеждает последний писатель, запись прежнего
		// источника удаляется целиком вместе с его бортами
		d.Collision = true
		if rec.DeclaredSettings != nil {
			d.SettingsChanged = true
		}
		if n := r.remove(id); n > 0 {
			d.RemovedAircraft += n
			d.AircraftChanged = true
		}
		ok = false
	}
	if !ok {
		rec = &models.PeerRecord{
			Identity:         id,
			Source:           src,
			FirstSeen:        now,
			LastSeen:         now,
			KnownAircraftIDs: make(map[models.AircraftID]struct{}),
		}
		r.peers[id] = rec
		if !d.Collision {
			d.Added = append(d.Added, id)
		}
		return rec
	}

	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	return rec
}

func (r *Registry) upsertAircraft(rec *models.PeerRecord, ac models.AircraftState, now time.Time) {
	if prev, ok := r.aircraft[ac.ID]; ok && prev.Owner != rec.Identity {
		// борт переходит к новому владельцу
		if old, ok := r.peers[prev.Owner]; ok {
			delete(old.KnownAircraftIDs, ac.ID)
		}
	}
	ac.Owner = rec.Identity
	ac.UpdatedAt = now
	r.aircraft[ac.ID] = ac
	rec.KnownAircraftIDs[ac.ID] = struct{}{}
}

// remove удаляет отправителя и все его борта, возвращая число удаленных бортов
func (r *Registry) remove(id models.PeerIdentity) int {
	rec, ok := r.peers[id]
	if !ok {
		return 0
	}
	n := 0
	for acID := range rec.KnownAircraftIDs {
		if ac, ok := r.aircraft[acID]; ok && ac.Owner == id {
			delete(r.aircraft, acID)
			n++
		}
	}
	delete(r.peers, id)
	return n
}

// Sweep удаляет отправителей, молчащих дольше StaleTimeout, и устаревшие борта
func (r *Registry) Sweep(now time.Time) Delta {
	var d Delta

	for id, rec := range r.peers {
		if now.Sub(rec.LastSeen) > r.cfg.StaleTimeout {
			d.Removed = append(d.Removed, id)
		}
	}
	slices.SortFunc(d.Removed, models.PeerIdentity.Compare)
	for _, id := range d.Removed {
		d.RemovedAircraft += r.remove(id)
	}

	if r.cfg.AircraftTimeout > 0 {
		for acID, ac := range r.aircraft {
			if now.Sub(ac.UpdatedAt) > r.cfg.AircraftTimeout {
				delete(r.aircraft, acID)
				if rec, ok := r.peers[ac.Owner]; ok {
					delete(rec.KnownAircraftIDs, acID)
				}
				d.RemovedAircraft++
			}
		}
	}
	d.AircraftChanged = d.RemovedAircraft > 0
	return d
}

// Snapshot возвращает копии всех записей и бортов (борта упорядочены по ID)
func (r *Registry) Snapshot() (map[models.PeerIdentity]models.PeerRecord, []models.AircraftState) {
	peers := make(map[models.PeerIdentity]models.PeerRecord, len(r.peers))
	for id, rec := range r.peers {
		peers[id] = rec.Clone()
	}
	return peers, r.Aircraft()
}

// Aircraft возвращает копию живых бортов, упорядоченную по ID
func (r *Registry) Aircraft() []models.AircraftState {
	out := make([]models.AircraftState, 0, len(r.aircraft))
	for _, ac := range r.aircraft {
		out = append(out, ac)
	}
	slices.SortFunc(out, func(a, b models.AircraftState) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// DeclaredSettings возвращает настройки отправителей, которые их объявили
func (r *Registry) DeclaredSettings() map[models.PeerIdentity]models.SettingsSnapshot {
	out := make(map[models.PeerIdentity]models.SettingsSnapshot, len(r.peers))
	for id, rec := range r.peers {
		if rec.DeclaredSettings != nil {
			out[id] = *rec.DeclaredSettings
		}
	}
	return out
}

// Get возвращает копию записи отправителя
func (r *Registry) Get(id models.PeerIdentity) (models.PeerRecord, bool) {
	rec, ok := r.peers[id]
	if !ok {
		return models.PeerRecord{}, false
	}
	return rec.Clone(), true
}

// Len - число живых отправителей
func (r *Registry) Len() int {
	return len(r.peers)
}

// AircraftCount - число живых бортов
func (r *Registry) AircraftCount() int {
	return len(r.aircraft)
}

// Reset отбрасывает все состояние
func (r *Registry) Reset() {
	clear(r.peers)
	clear(r.aircraft)
}
