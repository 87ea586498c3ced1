// Package wire реализует фиксированный бинарный формат сообщений мультикаст-канала.
//
// Заголовок (8 байт, big endian):
//
//	0     тип сообщения
//	1     версия протокола
//	2..5  номер экземпляра отправителя
//	6..7  длина полезной нагрузки
//
// За заголовком следует нагрузка фиксированного для типа размера. Одна датаграмма - одно сообщение.
//
// Нагрузка SettingsAnnounce (36 байт):
//
//	0..15   имя отправителя, NUL-дополненное (не более MaxSenderNameLen байт)
//	16..19  MaxLabelDist, float32
//	20..23  MaxDrawDist, float32
//	24..25  MaxAircraft
//	26      уровень логирования
//	27      флаги
//	28..31  цвет подписей RGBA
//	32..35  тип ICAO по умолчанию
//
// Дистанции передаются как float32: после приема значение равно float64(float32(x)),
// точность около 0.004 м на 50 км.
package wire

import (
	"bytes"
	"encoding/binary"
	"math"

	"trafficrc/internal/models"
)

const (
	Version    = 1
	HeaderSize = 8

	SettingsPayloadSize = 36
	AircraftPayloadSize = 77
	RemovePayloadSize   = 4

	// MaxSenderNameLen - наибольшая длина имени отправителя в байтах
	MaxSenderNameLen = 16
	icaoLen       = 4
	labelLen      = 32

	// MaxDatagramSize - наибольшая датаграмма, которую может породить Encode
	MaxDatagramSize = HeaderSize + AircraftPayloadSize
)

const (
	flagLabels = 1 << iota
	flagCutOffAtVisibility
	flagMap
	flagMapLabels
	flagReplaceDataRefs
	flagReplaceTextures
	flagTCAS
)

const flagOnGround = 1

var be = binary.BigEndian

// payloadSize возвращает ожидаемый размер нагрузки для типа
func payloadSize(t Type) (int, bool) {
	switch t {
	case TypeInterestBeacon, TypePeerGoodbye:
		return 0, true
	case TypeSettingsAnnounce:
		return SettingsPayloadSize, true
	case TypeAircraftUpdate:
		return AircraftPayloadSize, true
	case TypeAircraftRemove:
		return RemovePayloadSize, true
	}
	return 0, false
}

// Decode разбирает одну датаграмму. Ошибка всегда имеет тип *DecodeError.
func Decode(data []byte) (Message, error) {
	if len(data) < HeaderSize {
		return nil, decodeErr(ErrShortDatagram, 0, len(data))
	}
	t := Type(data[0])
	want, ok := payloadSize(t)
	if !ok {
		return nil, decodeErr(ErrUnknownType, t, len(data))
	}
	if data[1] != Version {
		return nil, decodeErr(ErrUnsupportedVersion, t, len(data))
	}
	instance := be.Uint32(data[2:6])
	length := int(be.Uint16(data[6:8]))
	payload := data[HeaderSize:]
	if length != len(payload) {
		return nil, decodeErr(ErrLengthMismatch, t, len(data))
	}
	if length != want {
		return nil, decodeErr(ErrPayloadSize, t, len(data))
	}
	if t != TypeInterestBeacon && instance == 0 {
		return nil, decodeErr(ErrAnonymousSender, t, len(data))
	}

	var (
		msg Message
		err error
	)
	switch t {
	case TypeInterestBeacon:
		msg = InterestBeacon{}
	case TypePeerGoodbye:
		msg = PeerGoodbye{Instance: instance}
	case TypeSettingsAnnounce:
		msg, err = decodeSettings(instance, payload)
	case TypeAircraftUpdate:
		msg, err = decodeAircraft(instance, payload)
	case TypeAircraftRemove:
		id := models.AircraftID(be.Uint32(payload))
		if id == 0 {
			err = ErrInvalidValue
		}
		msg = AircraftRemove{Instance: instance, ID: id}
	}
	if err != nil {
		return nil, decodeErr(err, t, len(data))
	}
	return msg, nil
}

func decodeSettings(instance uint32, p []byte) (Message, error) {
	s := models.SettingsSnapshot{
		SenderName:   cString(p[0:MaxSenderNameLen]),
		MaxLabelDist: float64(math.Float32frombits(be.Uint32(p[16:20]))),
		MaxDrawDist:  float64(math.Float32frombits(be.Uint32(p[20:24]))),
		MaxAircraft:  be.Uint16(p[24:26]),
		LogLevel:     models.LogLevel(p[26]),
	}
	flags := p[27]
	s.LabelsEnabled = flags&flagLabels != 0
	s.LabelCutOffAtVisibility = flags&flagCutOffAtVisibility != 0
	s.MapEnabled = flags&flagMap != 0
	s.MapLabels = flags&flagMapLabels != 0
	s.ReplaceDataRefs = flags&flagReplaceDataRefs != 0
	s.ReplaceTextures = flags&flagReplaceTextures != 0
	s.TCASControl = flags&flagTCAS != 0
	copy(s.LabelColor[:], p[28:32])
	s.DefaultICAO = cString(p[32:36])

	if !validDistance(s.MaxLabelDist) || !validDistance(s.MaxDrawDist) || s.LogLevel > models.LogLevelFatal {
		return nil, ErrInvalidValue
	}
	return SettingsAnnounce{Instance: instance, Settings: s}, nil
}

func decodeAircraft(instance uint32, p []byte) (Message, error) {
	ac := models.AircraftState{
		ID:       models.AircraftID(be.Uint32(p[0:4])),
		Lat:      math.Float64frombits(be.Uint64(p[4:12])),
		Lon:      math.Float64frombits(be.Uint64(p[12:20])),
		AltM:     math.Float64frombits(be.Uint64(p[20:28])),
		Heading:  math.Float32frombits(be.Uint32(p[28:32])),
		Pitch:    math.Float32frombits(be.Uint32(p[32:36])),
		Roll:     math.Float32frombits(be.Uint32(p[36:40])),
		OnGround: p[40]&flagOnGround != 0,
		ICAOType: cString(p[41:45]),
		Label:    cString(p[45:77]),
	}
	if ac.ID == 0 ||
		!finite(ac.Lat) || ac.Lat < -90 || ac.Lat > 90 ||
		!finite(ac.Lon) || ac.Lon < -180 || ac.Lon > 180 ||
		!finite(ac.AltM) ||
		!finite(float64(ac.Heading)) || !finite(float64(ac.Pitch)) || !finite(float64(ac.Roll)) {
		return nil, ErrInvalidValue
	}
	return AircraftUpdate{Instance: instance, Aircraft: ac}, nil
}

// Encode кодирует сообщение. Слишком длинные строковые поля - ошибка вызывающего.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	size, ok := payloadSize(msg.Type())
	if !ok {
		return nil, ErrUnknownType
	}
	buf := make([]byte, HeaderSize+size)
	buf[0] = byte(msg.Type())
	buf[1] = Version
	be.PutUint32(buf[2:6], msg.SenderInstance())
	be.PutUint16(buf[6:8], uint16(size))
	p := buf[HeaderSize:]

	switch m := msg.(type) {
	case SettingsAnnounce:
		if err := encodeSettings(p, m.Settings); err != nil {
			return nil, err
		}
	case AircraftUpdate:
		if err := encodeAircraft(p, m.Aircraft); err != nil {
			return nil, err
		}
	case AircraftRemove:
		be.PutUint32(p, uint32(m.ID))
	}
	return buf, nil
}

func encodeSettings(p []byte, s models.SettingsSnapshot) error {
	if err := putCString(p[0:MaxSenderNameLen], s.SenderName); err != nil {
		return err
	}
	be.PutUint32(p[16:20], math.Float32bits(float32(s.MaxLabelDist)))
	be.PutUint32(p[20:24], math.Float32bits(float32(s.MaxDrawDist)))
	be.PutUint16(p[24:26], s.MaxAircraft)
	p[26] = byte(s.LogLevel)
	var flags byte
	setFlag(&flags, flagLabels, s.LabelsEnabled)
	setFlag(&flags, flagCutOffAtVisibility, s.LabelCutOffAtVisibility)
	setFlag(&flags, flagMap, s.MapEnabled)
	setFlag(&flags, flagMapLabels, s.MapLabels)
	setFlag(&flags, flagReplaceDataRefs, s.ReplaceDataRefs)
	setFlag(&flags, flagReplaceTextures, s.ReplaceTextures)
	setFlag(&flags, flagTCAS, s.TCASControl)
	p[27] = flags
	copy(p[28:32], s.LabelColor[:])
	return putCString(p[32:36], s.DefaultICAO)
}

func encodeAircraft(p []byte, ac models.AircraftState) error {
	be.PutUint32(p[0:4], uint32(ac.ID))
	be.PutUint64(p[4:12], math.Float64bits(ac.Lat))
	be.PutUint64(p[12:20], math.Float64bits(ac.Lon))
	be.PutUint64(p[20:28], math.Float64bits(ac.AltM))
	be.PutUint32(p[28:32], math.Float32bits(ac.Heading))
	be.PutUint32(p[32:36], math.Float32bits(ac.Pitch))
	be.PutUint32(p[36:40], math.Float32bits(ac.Roll))
	if ac.OnGround {
		p[40] = flagOnGround
	}
	if err := putCString(p[41:45], ac.ICAOType); err != nil {
		return err
	}
	return putCString(p[45:77], ac.Label)
}

func setFlag(flags *byte, bit byte, on bool) {
	if on {
		*flags |= bit
	}
}

// cString читает строку, дополненную нулями
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func putCString(dst []byte, s string) error {
	if len(s) > len(dst) {
		return ErrFieldTooLong
	}
	copy(dst, s)
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func validDistance(v float64) bool {
	return finite(v) && v >= 0
}
