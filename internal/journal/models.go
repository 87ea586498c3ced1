package journal

import (
	"time"

	"trafficrc/internal/metrics"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Session - итог одного цикла activate/deactivate.
// Состояние отправителей сюда не попадает, только диагностика.
type Session struct {
	ID        string        `msgpack:"id"`
	Group     string        `msgpack:"group"`
	StartedAt time.Time     `msgpack:"started_at"`
	EndedAt   time.Time     `msgpack:"ended_at"`
	MaxPeers  int           `msgpack:"max_peers"`
	Stats     metrics.Stats `msgpack:"stats"`
}

// NewSession создает сессию с новым идентификатором
func NewSession(group string, startedAt time.Time) Session {
	return Session{
		ID:        uuid.NewString(),
		Group:     group,
		StartedAt: startedAt,
	}
}

func (s Session) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Serializer предоставляет интерфейс для сериализации/десериализации данных
type Serializer interface {
	Serialize(v interface{}) ([]byte, error)
	Deserialize(data []byte, v interface{}) error
}

// MsgpackSerializer реализует Serializer используя msgpack
type MsgpackSerializer struct{}

func (s *MsgpackSerializer) Serialize(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (s *MsgpackSerializer) Deserialize(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}
