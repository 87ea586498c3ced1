package models

import (
	"cmp"
	"fmt"
	"math"
	"net/netip"
	"time"
)

// PeerIdentity однозначно определяет отправителя трафика: адрес хоста плюс
// выбранный отправителем номер экземпляра (на одном хосте может работать несколько отправителей)
type PeerIdentity struct {
	Addr     netip.Addr
	Instance uint32
}

// NewPeerIdentity строит идентификатор из адреса источника датаграммы
func NewPeerIdentity(src netip.AddrPort, instance uint32) PeerIdentity {
	return PeerIdentity{Addr: src.Addr().Unmap(), Instance: instance}
}

func (id PeerIdentity) String() string {
	return fmt.Sprintf("%s#%d", id.Addr, id.Instance)
}

// Compare задает полный порядок на идентификаторах, не зависящий от порядка поступления сообщений
func (id PeerIdentity) Compare(other PeerIdentity) int {
	if c := id.Addr.Compare(other.Addr); c != 0 {
		return c
	}
	return cmp.Compare(id.Instance, other.Instance)
}

// AircraftID - идентификатор воздушного судна (24-битный адрес Mode S у отправителей XPMP2)
type AircraftID uint32

func (id AircraftID) String() string {
	return fmt.Sprintf("%06X", uint32(id))
}

// LogLevel - уровень логирования, объявленный отправителем (0 - debug ... 4 - fatal)
type LogLevel uint8

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
)

// Color - цвет подписи RGBA
type Color [4]uint8

var (
	ColorYellow = Color{255, 255, 0, 255}
)

// SettingsSnapshot - настройки, объявленные одним отправителем.
// Значение неизменяемое: новое объявление заменяет старое целиком.
type SettingsSnapshot struct {
	SenderName              string
	MaxLabelDist            float64 // метры
	MaxDrawDist             float64 // метры, 0 - отправитель не задал ограничение
	MaxAircraft             uint16  // 0 - без ограничения
	LogLevel                LogLevel
	LabelsEnabled           bool
	LabelCutOffAtVisibility bool
	MapEnabled              bool
	MapLabels               bool
	ReplaceDataRefs         bool
	ReplaceTextures         bool
	TCASControl             bool
	LabelColor              Color
	DefaultICAO             string
}

// DefaultSettings возвращает настройки, действующие при отсутствии живых отправителей
func DefaultSettings() SettingsSnapshot {
	return SettingsSnapshot{
		MaxLabelDist:            3000,
		LogLevel:                LogLevelInfo,
		LabelsEnabled:           true,
		LabelCutOffAtVisibility: true,
		LabelColor:              ColorYellow,
		DefaultICAO:             "A320",
	}
}

// EffectiveSettings - итоговая конфигурация, вычисленная из настроек всех живых отправителей
type EffectiveSettings struct {
	SettingsSnapshot
	PeerCount int
}

// LabelCutoff возвращает дистанцию, дальше которой подписи не рисуются.
// visibility <= 0 означает, что видимость неизвестна.
func (s EffectiveSettings) LabelCutoff(visibility float64) float64 {
	if !s.LabelsEnabled {
		return 0
	}
	if s.LabelCutOffAtVisibility && visibility > 0 {
		return math.Min(s.MaxLabelDist, visibility)
	}
	return s.MaxLabelDist
}

// AircraftState - положение и подпись одного воздушного судна.
// Владелец всегда ровно один; писатель - только реестр.
type AircraftState struct {
	ID        AircraftID
	Owner     PeerIdentity
	Lat       float64
	Lon       float64
	AltM      float64
	Heading   float32
	Pitch     float32
	Roll      float32
	OnGround  bool
	ICAOType  string
	Label     string
	UpdatedAt time.Time
}

// PeerRecord - запись об одном известном отправителе
type PeerRecord struct {
	Identity         PeerIdentity
	Source           netip.AddrPort
	FirstSeen        time.Time
	LastSeen         time.Time
	DeclaredSettings *SettingsSnapshot // nil, пока отправитель не прислал настройки
	KnownAircraftIDs map[AircraftID]struct{}
}

// Clone возвращает глубокую копию записи
func (r *PeerRecord) Clone() PeerRecord {
	c := *r
	c.KnownAircraftIDs = make(map[AircraftID]struct{}, len(r.KnownAircraftIDs))
	for id := range r.KnownAircraftIDs {
		c.KnownAircraftIDs[id] = struct{}{}
	}
	if r.DeclaredSettings != nil {
		s := *r.DeclaredSettings
		c.DeclaredSettings = &s
	}
	return c
}
