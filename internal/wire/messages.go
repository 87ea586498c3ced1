package wire

import (
	"trafficrc/internal/models"
)

// Type - тег типа сообщения в заголовке
type Type uint8

const (
	TypeInterestBeacon Type = iota + 1
	TypeSettingsAnnounce
	TypeAircraftUpdate
	TypeAircraftRemove
	TypePeerGoodbye
)

func (t Type) String() string {
	switch t {
	case TypeInterestBeacon:
		return "interest_beacon"
	case TypeSettingsAnnounce:
		return "settings_announce"
	case TypeAircraftUpdate:
		return "aircraft_update"
	case TypeAircraftRemove:
		return "aircraft_remove"
	case TypePeerGoodbye:
		return "peer_goodbye"
	default:
		return "unknown"
	}
}

// Message - одно логическое сообщение, одна датаграмма
type Message interface {
	Type() Type
	// SenderInstance возвращает номер экземпляра отправителя (0 у маяка)
	SenderInstance() uint32
}

// InterestBeacon - маяк интереса, адресата у него нет
type InterestBeacon struct{}

func (InterestBeacon) Type() Type             { return TypeInterestBeacon }
func (InterestBeacon) SenderInstance() uint32 { return 0 }

type SettingsAnnounce struct {
	Instance uint32
	Settings models.SettingsSnapshot
}

func (SettingsAnnounce) Type() Type               { return TypeSettingsAnnounce }
func (m SettingsAnnounce) SenderInstance() uint32 { return m.Instance }

// AircraftUpdate несет состояние одного борта; Owner и UpdatedAt заполняет получатель
type AircraftUpdate struct {
	Instance uint32
	Aircraft models.AircraftState
}

func (AircraftUpdate) Type() Type               { return TypeAircraftUpdate }
func (m AircraftUpdate) SenderInstance() uint32 { return m.Instance }

type AircraftRemove struct {
	Instance uint32
	ID       models.AircraftID
}

func (AircraftRemove) Type() Type               { return TypeAircraftRemove }
func (m AircraftRemove) SenderInstance() uint32 { return m.Instance }

// PeerGoodbye доставляется по возможности; корректность вытеснения от него не зависит
type PeerGoodbye struct {
	Instance uint32
}

func (PeerGoodbye) Type() Type               { return TypePeerGoodbye }
func (m PeerGoodbye) SenderInstance() uint32 { return m.Instance }
