package registry

import "trafficrc/internal/models"

// Delta сообщает, что изменилось после Ingest или Sweep
type Delta struct {
	Added           []models.PeerIdentity
	Removed         []models.PeerIdentity
	SettingsChanged bool
	AircraftChanged bool
	RemovedAircraft int
	// Collision - тот же идентификатор пришел с другого адреса источника
	Collision bool
	// Goodbye - отправитель удален по PeerGoodbye
	Goodbye bool
}

// MembershipChanged - изменился состав живых отправителей
func (d Delta) MembershipChanged() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0
}

// NeedsMerge - нужно пересчитать EffectiveSettings
func (d Delta) NeedsMerge() bool {
	return d.MembershipChanged() || d.SettingsChanged
}

// Changed - нужно опубликовать новый снимок
func (d Delta) Changed() bool {
	return d.NeedsMerge() || d.AircraftChanged || d.RemovedAircraft > 0
}

// Merge объединяет две дельты
func (d Delta) Merge(o Delta) Delta {
	d.Added = append(d.Added, o.Added...)
	d.Removed = append(d.Removed, o.Removed...)
	d.SettingsChanged = d.SettingsChanged || o.SettingsChanged
	d.AircraftChanged = d.AircraftChanged || o.AircraftChanged
	d.RemovedAircraft += o.RemovedAircraft
	d.Collision = d.Collision || o.Collision
	d.Goodbye = d.Goodbye || o.Goodbye
	return d
}
